// Package store declares the persistence contract used by the referral core.
// Implementations live in the memory and postgres subpackages.
package store

import (
	"context"

	"referral-bot/internal/apperr"
	"referral-bot/internal/models"
)

var (
	// ErrDuplicate is returned when a primary key already exists.
	ErrDuplicate = apperr.New(apperr.KindConflict, "already exists")
	// ErrNotFound is returned when an update targets a missing row.
	ErrNotFound = apperr.New(apperr.KindNotFound, "not found")
)

type Store interface {
	AddDeveloperCode(ctx context.Context, code string) error
	DeleteDeveloperCode(ctx context.Context, code string) error
	HasDeveloperCode(ctx context.Context, code string) (bool, error)
	ListDeveloperCodes(ctx context.Context) ([]models.DeveloperCode, error)

	// CreateParticipant returns ErrDuplicate if the id is taken.
	CreateParticipant(ctx context.Context, p models.Participant) error
	// GetParticipant returns (nil, nil) when the id is unknown.
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	ListParticipants(ctx context.Context) ([]models.Participant, error)
	ListReferrals(ctx context.Context, referrerID string) ([]models.Participant, error)
	SetLanguage(ctx context.Context, id, lang string) error

	// AddLink records token as unconsumed for the participant.
	AddLink(ctx context.Context, participantID, token string) error
	// ConsumeLink flips an unconsumed token to consumed in one conditional
	// step. At most one caller ever observes LinkConsumed for a token.
	ConsumeLink(ctx context.Context, participantID, token string) (models.LinkState, error)

	SaveChainRecord(ctx context.Context, participantID string, chain models.Chain, rec models.ChainRecord) error
}
