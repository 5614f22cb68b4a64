package referral

import (
	"context"
	"errors"
	"strings"

	"referral-bot/internal/models"
	"referral-bot/internal/store"
)

// Directory answers who is a developer code and who is a participant.
// Mutating and reporting calls are restricted to configured operators.
type Directory struct {
	st        store.Store
	operators map[string]bool
}

func NewDirectory(st store.Store, operators []string) *Directory {
	ops := make(map[string]bool, len(operators))
	for _, id := range operators {
		if id = strings.TrimSpace(id); id != "" {
			ops[id] = true
		}
	}
	return &Directory{st: st, operators: ops}
}

func (d *Directory) IsOperator(id string) bool {
	return d.operators[id]
}

func (d *Directory) IsDeveloperCode(ctx context.Context, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}
	return d.st.HasDeveloperCode(ctx, code)
}

// FindParticipant returns nil when id is unknown.
func (d *Directory) FindParticipant(ctx context.Context, id string) (*models.Participant, error) {
	return d.st.GetParticipant(ctx, strings.TrimSpace(id))
}

func (d *Directory) AddDeveloperCode(ctx context.Context, requesterID, code string) error {
	if !d.IsOperator(requesterID) {
		return ErrNotOperator
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrBlankCode
	}
	err := d.st.AddDeveloperCode(ctx, code)
	if errors.Is(err, store.ErrDuplicate) {
		return ErrCodeExists
	}
	return err
}

func (d *Directory) RemoveDeveloperCode(ctx context.Context, requesterID, code string) error {
	if !d.IsOperator(requesterID) {
		return ErrNotOperator
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrBlankCode
	}
	err := d.st.DeleteDeveloperCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return ErrCodeNotFound
	}
	return err
}

func (d *Directory) ListDeveloperCodes(ctx context.Context, requesterID string) ([]string, error) {
	if !d.IsOperator(requesterID) {
		return nil, ErrNotOperator
	}
	codes, err := d.st.ListDeveloperCodes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		out = append(out, c.Code)
	}
	return out, nil
}

func (d *Directory) ListParticipants(ctx context.Context, requesterID string) ([]models.Participant, error) {
	if !d.IsOperator(requesterID) {
		return nil, ErrNotOperator
	}
	return d.st.ListParticipants(ctx)
}

// SetLanguage stores the participant's preferred locale.
func (d *Directory) SetLanguage(ctx context.Context, id, lang string) error {
	err := d.st.SetLanguage(ctx, id, lang)
	if errors.Is(err, store.ErrNotFound) {
		return ErrParticipantNotFound
	}
	return err
}
