// Package memory is an in-process Store used by tests and local runs
// without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"referral-bot/internal/models"
	"referral-bot/internal/store"
)

type Store struct {
	mu           sync.Mutex
	codes        map[string]models.DeveloperCode
	participants map[string]*models.Participant
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		codes:        map[string]models.DeveloperCode{},
		participants: map[string]*models.Participant{},
	}
}

// ---------- Developer codes ----------

func (s *Store) AddDeveloperCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code]; ok {
		return store.ErrDuplicate
	}
	s.codes[code] = models.DeveloperCode{Code: code, CreatedAt: time.Now().UTC()}
	return nil
}

func (s *Store) DeleteDeveloperCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code]; !ok {
		return store.ErrNotFound
	}
	delete(s.codes, code)
	return nil
}

func (s *Store) HasDeveloperCode(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.codes[code]
	return ok, nil
}

func (s *Store) ListDeveloperCodes(ctx context.Context) ([]models.DeveloperCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DeveloperCode, 0, len(s.codes))
	for _, c := range s.codes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// ---------- Participants ----------

func (s *Store) CreateParticipant(ctx context.Context, p models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.ID]; ok {
		return store.ErrDuplicate
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := clone(&p)
	s.participants[p.ID] = &cp
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, nil
	}
	cp := clone(p)
	return &cp, nil
}

func (s *Store) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	return s.filter(func(*models.Participant) bool { return true }), nil
}

func (s *Store) ListReferrals(ctx context.Context, referrerID string) ([]models.Participant, error) {
	return s.filter(func(p *models.Participant) bool { return p.ReferrerID == referrerID }), nil
}

func (s *Store) SetLanguage(ctx context.Context, id, lang string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Language = lang
	return nil
}

// ---------- Links ----------

func (s *Store) AddLink(ctx context.Context, participantID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return store.ErrNotFound
	}
	if _, exists := p.UsedLinks[token]; exists {
		return store.ErrDuplicate
	}
	p.UsedLinks[token] = false
	return nil
}

func (s *Store) ConsumeLink(ctx context.Context, participantID, token string) (models.LinkState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return models.LinkUnknown, store.ErrNotFound
	}
	used, exists := p.UsedLinks[token]
	switch {
	case !exists:
		return models.LinkUnknown, nil
	case used:
		return models.LinkAlreadyUsed, nil
	}
	p.UsedLinks[token] = true
	return models.LinkConsumed, nil
}

// ---------- Chain records ----------

func (s *Store) SaveChainRecord(ctx context.Context, participantID string, chain models.Chain, rec models.ChainRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return store.ErrNotFound
	}
	p.ChainRecords[chain] = rec
	return nil
}

// ---------- helpers ----------

func (s *Store) filter(keep func(*models.Participant) bool) []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Participant{}
	for _, p := range s.participants {
		if keep(p) {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func clone(p *models.Participant) models.Participant {
	cp := *p
	cp.UsedLinks = make(map[string]bool, len(p.UsedLinks))
	for k, v := range p.UsedLinks {
		cp.UsedLinks[k] = v
	}
	cp.ChainRecords = make(map[models.Chain]models.ChainRecord, len(p.ChainRecords))
	for k, v := range p.ChainRecords {
		cp.ChainRecords[k] = v
	}
	return cp
}
