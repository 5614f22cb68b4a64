package referral

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"referral-bot/internal/codec"
	"referral-bot/internal/metrics"
	"referral-bot/internal/models"
	"referral-bot/internal/store"
)

// Query parameters understood by the web front-end.
const (
	ParamUserID = "user_id"
	ParamRefID  = "ref_id"
	ParamLinkID = "link_id"
)

const MessageAlreadyUsed = "already used"

type Link struct {
	URL   string
	Token string
}

type Validation struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// LinkManager mints and redeems single-use web links. The consumed flag of
// every token lives in the store; a token is redeemed at most once.
type LinkManager struct {
	st       store.Store
	base     *url.URL
	newToken func() string
}

func NewLinkManager(st store.Store, websiteURL string) (*LinkManager, error) {
	base, err := url.Parse(websiteURL)
	if err != nil {
		return nil, fmt.Errorf("website url: %w", err)
	}
	return &LinkManager{st: st, base: base, newToken: uuid.NewString}, nil
}

// Mint records a fresh unconsumed token for the participant and returns the
// URL that carries it.
func (m *LinkManager) Mint(ctx context.Context, participantID, referrerID string) (Link, error) {
	var (
		token string
		err   error
	)
	for attempt := 0; attempt < 3; attempt++ {
		token = m.newToken()
		err = m.st.AddLink(ctx, participantID, token)
		if !errors.Is(err, store.ErrDuplicate) {
			break
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return Link{}, ErrParticipantNotFound
	}
	if err != nil {
		return Link{}, err
	}
	metrics.RecordLinkMinted()
	return Link{URL: m.buildURL(participantID, referrerID, token), Token: token}, nil
}

// Reissue mints another link for an existing participant. Earlier tokens
// keep their own state.
func (m *LinkManager) Reissue(ctx context.Context, participantID string) (Link, error) {
	p, err := m.st.GetParticipant(ctx, participantID)
	if err != nil {
		return Link{}, err
	}
	if p == nil {
		return Link{}, ErrParticipantNotFound
	}
	return m.Mint(ctx, p.ID, p.ReferrerID)
}

// Validate redeems token for the participant. An already consumed token is
// a normal outcome reported as Valid=false, not an error.
func (m *LinkManager) Validate(ctx context.Context, participantID, referrerID, token string) (Validation, error) {
	p, err := m.st.GetParticipant(ctx, participantID)
	if err != nil {
		return Validation{}, err
	}
	if p == nil {
		metrics.RecordLinkValidation("not_found")
		return Validation{}, ErrParticipantNotFound
	}
	if p.ReferrerID != referrerID {
		metrics.RecordLinkValidation("mismatch")
		return Validation{}, ErrReferrerMismatch
	}
	if token == "" {
		metrics.RecordLinkValidation("invalid")
		return Validation{}, ErrInvalidToken
	}

	state, err := m.st.ConsumeLink(ctx, participantID, token)
	if errors.Is(err, store.ErrNotFound) {
		return Validation{}, ErrParticipantNotFound
	}
	if err != nil {
		return Validation{}, err
	}

	switch state {
	case models.LinkConsumed:
		metrics.RecordLinkValidation("valid")
		return Validation{Valid: true, Message: "link is valid and has been used"}, nil
	case models.LinkAlreadyUsed:
		metrics.RecordLinkValidation("already_used")
		return Validation{Valid: false, Message: MessageAlreadyUsed}, nil
	default:
		metrics.RecordLinkValidation("invalid")
		return Validation{}, ErrInvalidToken
	}
}

func (m *LinkManager) buildURL(participantID, referrerID, token string) string {
	u := *m.base
	q := u.Query()
	q.Set(ParamUserID, codec.Encode(participantID))
	q.Set(ParamRefID, codec.Encode(referrerID))
	q.Set(ParamLinkID, token)
	u.RawQuery = q.Encode()
	return u.String()
}
