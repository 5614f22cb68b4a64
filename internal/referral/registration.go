package referral

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"referral-bot/internal/metrics"
	"referral-bot/internal/models"
	"referral-bot/internal/store"
)

type Registration struct {
	Participant models.Participant
	Link        Link
	// Created is false when the participant already existed and only a new
	// link was issued.
	Created bool
}

// Engine classifies first-seen participants and creates their record.
type Engine struct {
	dir   *Directory
	links *LinkManager
	st    store.Store
	log   logrus.FieldLogger
}

func NewEngine(st store.Store, dir *Directory, links *LinkManager, log logrus.FieldLogger) *Engine {
	return &Engine{dir: dir, links: links, st: st, log: log}
}

// Check runs the referral classification without writing anything. It lets
// the chat shell deny a bad referral before asking for a language.
func (e *Engine) Check(ctx context.Context, newID, refArg string) (models.ReferrerKind, int, error) {
	return e.classify(ctx, strings.TrimSpace(newID), strings.TrimSpace(refArg))
}

// Register creates the participant newID under refArg and mints its first
// link. Self-referral is rejected first. A participant that already exists
// is never re-registered; it gets a fresh link instead.
func (e *Engine) Register(ctx context.Context, newID, refArg, lang string) (Registration, error) {
	newID = strings.TrimSpace(newID)
	refArg = strings.TrimSpace(refArg)
	if newID == "" {
		return Registration{}, ErrMissingID
	}
	if refArg == newID {
		metrics.RecordRegistration("rejected")
		return Registration{}, ErrSelfReferral
	}

	existing, err := e.st.GetParticipant(ctx, newID)
	if err != nil {
		return Registration{}, err
	}
	if existing != nil {
		return e.reissue(ctx, *existing)
	}

	kind, level, err := e.classify(ctx, newID, refArg)
	if err != nil {
		metrics.RecordRegistration("rejected")
		return Registration{}, err
	}

	p := models.Participant{
		ID:            newID,
		ReferrerID:    refArg,
		ReferrerKind:  kind,
		ReferralLevel: level,
		UsedLinks:     map[string]bool{},
		Language:      lang,
		ChainRecords:  map[models.Chain]models.ChainRecord{},
		CreatedAt:     time.Now().UTC(),
	}
	err = e.st.CreateParticipant(ctx, p)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent first contact for the same id.
		existing, err := e.st.GetParticipant(ctx, newID)
		if err != nil {
			return Registration{}, err
		}
		if existing == nil {
			return Registration{}, ErrParticipantNotFound
		}
		return e.reissue(ctx, *existing)
	}
	if err != nil {
		return Registration{}, err
	}

	e.log.WithFields(logrus.Fields{
		"participant": p.ID,
		"referrer":    p.ReferrerID,
		"kind":        p.ReferrerKind,
		"level":       p.ReferralLevel,
	}).Info("participant registered")
	metrics.RecordRegistration(string(kind))

	link, err := e.links.Mint(ctx, p.ID, p.ReferrerID)
	if err != nil {
		return Registration{}, err
	}
	p.UsedLinks[link.Token] = false
	return Registration{Participant: p, Link: link, Created: true}, nil
}

func (e *Engine) reissue(ctx context.Context, p models.Participant) (Registration, error) {
	link, err := e.links.Mint(ctx, p.ID, p.ReferrerID)
	if err != nil {
		return Registration{}, err
	}
	if p.UsedLinks == nil {
		p.UsedLinks = map[string]bool{}
	}
	p.UsedLinks[link.Token] = false
	metrics.RecordRegistration("reissued")
	return Registration{Participant: p, Link: link}, nil
}

func (e *Engine) classify(ctx context.Context, newID, refArg string) (models.ReferrerKind, int, error) {
	if refArg == "" {
		return "", 0, ErrNoReferralProvided
	}
	if refArg == newID {
		return "", 0, ErrSelfReferral
	}

	isDev, err := e.dir.IsDeveloperCode(ctx, refArg)
	if err != nil {
		return "", 0, err
	}
	if isDev {
		return models.ReferrerDeveloper, 1, nil
	}

	referrer, err := e.dir.FindParticipant(ctx, refArg)
	if err != nil {
		return "", 0, err
	}
	if referrer != nil {
		return models.ReferrerParticipant, referrer.ReferralLevel + 1, nil
	}
	return "", 0, ErrUnknownReferral
}
