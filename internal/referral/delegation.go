package referral

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"referral-bot/internal/metrics"
	"referral-bot/internal/models"
	"referral-bot/internal/store"
)

// Recorder stores delegation outcomes reported by the front-end, one record
// per participant and chain.
type Recorder struct {
	st     store.Store
	chains map[models.Chain]bool
	log    logrus.FieldLogger
}

func NewRecorder(st store.Store, chains []models.Chain, log logrus.FieldLogger) *Recorder {
	set := make(map[models.Chain]bool, len(chains))
	for _, c := range chains {
		set[NormalizeChain(string(c))] = true
	}
	return &Recorder{st: st, chains: set, log: log}
}

func NormalizeChain(s string) models.Chain {
	return models.Chain(strings.ToLower(strings.TrimSpace(s)))
}

func (r *Recorder) Supports(chain models.Chain) bool {
	return r.chains[chain]
}

// Record overwrites the chain address. A non-empty txID is stored and clears
// any earlier error; otherwise txError is stored and the last txID is kept.
func (r *Recorder) Record(ctx context.Context, chain models.Chain, participantID, address, txID, txError string) (models.Delegation, error) {
	chain = NormalizeChain(string(chain))
	if !r.chains[chain] {
		return models.Delegation{}, ErrUnknownChain
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return models.Delegation{}, ErrMissingAddress
	}
	txID = strings.TrimSpace(txID)

	p, err := r.st.GetParticipant(ctx, participantID)
	if err != nil {
		return models.Delegation{}, err
	}
	if p == nil {
		return models.Delegation{}, ErrParticipantNotFound
	}

	rec := p.ChainRecords[chain]
	rec.Address = address
	outcome := "success"
	if txID != "" {
		rec.TxID = txID
		rec.TxError = ""
	} else {
		rec.TxError = txError
		outcome = "failure"
	}

	err = r.st.SaveChainRecord(ctx, participantID, chain, rec)
	if errors.Is(err, store.ErrNotFound) {
		return models.Delegation{}, ErrParticipantNotFound
	}
	if err != nil {
		metrics.RecordDelegation(string(chain), "error")
		return models.Delegation{}, err
	}

	metrics.RecordDelegation(string(chain), outcome)
	r.log.WithFields(logrus.Fields{
		"participant": participantID,
		"chain":       chain,
		"address":     address,
		"tx":          rec.TxID,
		"tx_error":    rec.TxError,
	}).Info("delegation recorded")

	return models.Delegation{
		ParticipantID: participantID,
		Chain:         chain,
		Address:       rec.Address,
		TxID:          rec.TxID,
		TxError:       rec.TxError,
	}, nil
}
