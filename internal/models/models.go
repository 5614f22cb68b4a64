package models

import "time"

type ReferrerKind string

const (
	ReferrerNone        ReferrerKind = "none"
	ReferrerDeveloper   ReferrerKind = "developer"
	ReferrerParticipant ReferrerKind = "participant"
)

// Chain identifies a supported delegation network ("tia", "fet").
type Chain string

type DeveloperCode struct {
	Code      string
	CreatedAt time.Time
}

type Participant struct {
	ID            string
	ReferrerID    string // empty when ReferrerKind is none
	ReferrerKind  ReferrerKind
	ReferralLevel int
	UsedLinks     map[string]bool // token -> consumed
	Language      string
	ChainRecords  map[Chain]ChainRecord
	CreatedAt     time.Time
}

type ChainRecord struct {
	Address string
	TxID    string
	TxError string
}

// Delegation is the snapshot echoed back after recording a submission.
type Delegation struct {
	ParticipantID string
	Chain         Chain
	Address       string
	TxID          string
	TxError       string
}

// LinkState is the outcome of a conditional link consumption.
type LinkState int

const (
	LinkUnknown LinkState = iota
	LinkConsumed
	LinkAlreadyUsed
)

func (p *Participant) ConsumedLinks() int {
	n := 0
	for _, used := range p.UsedLinks {
		if used {
			n++
		}
	}
	return n
}
