// Package postgres implements store.Store on PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"referral-bot/internal/apperr"
	"referral-bot/internal/models"
	"referral-bot/internal/store"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// --- Developer codes --------------------------------------------------------

func (s *Store) AddDeveloperCode(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO developer_codes (code, created_at)
		VALUES ($1, $2)
	`, code, time.Now().UTC())
	if isCode(err, codeUniqueViolation) {
		return store.ErrDuplicate
	}
	return apperr.Persistence("insert developer code", err)
}

func (s *Store) DeleteDeveloperCode(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM developer_codes WHERE code = $1`, code)
	if err != nil {
		return apperr.Persistence("delete developer code", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) HasDeveloperCode(ctx context.Context, code string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM developer_codes WHERE code = $1)
	`, code).Scan(&ok)
	if err != nil {
		return false, apperr.Persistence("lookup developer code", err)
	}
	return ok, nil
}

func (s *Store) ListDeveloperCodes(ctx context.Context) ([]models.DeveloperCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, created_at
		FROM developer_codes
		ORDER BY code
	`)
	if err != nil {
		return nil, apperr.Persistence("list developer codes", err)
	}
	defer rows.Close()

	var out []models.DeveloperCode
	for rows.Next() {
		var c models.DeveloperCode
		if err := rows.Scan(&c.Code, &c.CreatedAt); err != nil {
			return nil, apperr.Persistence("scan developer code", err)
		}
		out = append(out, c)
	}
	return out, apperr.Persistence("list developer codes", rows.Err())
}

// --- Participants -----------------------------------------------------------

func (s *Store) CreateParticipant(ctx context.Context, p models.Participant) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (id, referrer_id, referrer_kind, referral_level, language, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.ReferrerID, string(p.ReferrerKind), p.ReferralLevel, p.Language, p.CreatedAt)
	if err != nil {
		return apperr.Persistence("insert participant", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrDuplicate
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, referrer_id, referrer_kind, referral_level, language, created_at
		FROM participants
		WHERE id = $1
	`, id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("get participant", err)
	}
	byID := map[string]*models.Participant{p.ID: &p}
	if err := s.loadDetails(ctx, byID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	return s.queryParticipants(ctx, `
		SELECT id, referrer_id, referrer_kind, referral_level, language, created_at
		FROM participants
		ORDER BY created_at, id
	`)
}

func (s *Store) ListReferrals(ctx context.Context, referrerID string) ([]models.Participant, error) {
	return s.queryParticipants(ctx, `
		SELECT id, referrer_id, referrer_kind, referral_level, language, created_at
		FROM participants
		WHERE referrer_id = $1
		ORDER BY created_at, id
	`, referrerID)
}

func (s *Store) SetLanguage(ctx context.Context, id, lang string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE participants SET language = $2 WHERE id = $1`, id, lang)
	if err != nil {
		return apperr.Persistence("update language", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- Links ------------------------------------------------------------------

func (s *Store) AddLink(ctx context.Context, participantID, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participant_links (token, participant_id, consumed, created_at)
		VALUES ($1, $2, FALSE, $3)
	`, token, participantID, time.Now().UTC())
	switch {
	case isCode(err, codeForeignKeyViolation):
		return store.ErrNotFound
	case isCode(err, codeUniqueViolation):
		return store.ErrDuplicate
	}
	return apperr.Persistence("insert link", err)
}

func (s *Store) ConsumeLink(ctx context.Context, participantID, token string) (models.LinkState, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE participant_links
		SET consumed = TRUE, consumed_at = $3
		WHERE participant_id = $1 AND token = $2 AND NOT consumed
	`, participantID, token, time.Now().UTC())
	if err != nil {
		return models.LinkUnknown, apperr.Persistence("consume link", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return models.LinkConsumed, nil
	}

	var consumed bool
	err = s.db.QueryRowContext(ctx, `
		SELECT consumed FROM participant_links
		WHERE participant_id = $1 AND token = $2
	`, participantID, token).Scan(&consumed)
	switch {
	case err == nil:
		return models.LinkAlreadyUsed, nil
	case !errors.Is(err, sql.ErrNoRows):
		return models.LinkUnknown, apperr.Persistence("lookup link", err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM participants WHERE id = $1)
	`, participantID).Scan(&exists); err != nil {
		return models.LinkUnknown, apperr.Persistence("lookup participant", err)
	}
	if !exists {
		return models.LinkUnknown, store.ErrNotFound
	}
	return models.LinkUnknown, nil
}

// --- Chain records ----------------------------------------------------------

func (s *Store) SaveChainRecord(ctx context.Context, participantID string, chain models.Chain, rec models.ChainRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chain_records (participant_id, chain, address, tx_id, tx_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (participant_id, chain) DO UPDATE
		SET address = EXCLUDED.address,
		    tx_id = EXCLUDED.tx_id,
		    tx_error = EXCLUDED.tx_error,
		    updated_at = EXCLUDED.updated_at
	`, participantID, string(chain), rec.Address, rec.TxID, rec.TxError, time.Now().UTC())
	if isCode(err, codeForeignKeyViolation) {
		return store.ErrNotFound
	}
	return apperr.Persistence("save chain record", err)
}

// --- helpers ----------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row scanner) (models.Participant, error) {
	var (
		p    models.Participant
		kind string
	)
	if err := row.Scan(&p.ID, &p.ReferrerID, &kind, &p.ReferralLevel, &p.Language, &p.CreatedAt); err != nil {
		return models.Participant{}, err
	}
	p.ReferrerKind = models.ReferrerKind(kind)
	p.UsedLinks = map[string]bool{}
	p.ChainRecords = map[models.Chain]models.ChainRecord{}
	return p, nil
}

func (s *Store) queryParticipants(ctx context.Context, query string, args ...any) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence("list participants", err)
	}
	defer rows.Close()

	out := []models.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, apperr.Persistence("scan participant", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list participants", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	byID := make(map[string]*models.Participant, len(out))
	for i := range out {
		byID[out[i].ID] = &out[i]
	}
	if err := s.loadDetails(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}

// loadDetails fills links and chain records for every participant in byID
// with one query per table.
func (s *Store) loadDetails(ctx context.Context, byID map[string]*models.Participant) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	links, err := s.db.QueryContext(ctx, `
		SELECT participant_id, token, consumed
		FROM participant_links
		WHERE participant_id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return apperr.Persistence("load links", err)
	}
	defer links.Close()
	for links.Next() {
		var (
			pid, token string
			consumed   bool
		)
		if err := links.Scan(&pid, &token, &consumed); err != nil {
			return apperr.Persistence("scan link", err)
		}
		if p, ok := byID[pid]; ok {
			p.UsedLinks[token] = consumed
		}
	}
	if err := links.Err(); err != nil {
		return apperr.Persistence("load links", err)
	}

	chains, err := s.db.QueryContext(ctx, `
		SELECT participant_id, chain, address, tx_id, tx_error
		FROM chain_records
		WHERE participant_id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return apperr.Persistence("load chain records", err)
	}
	defer chains.Close()
	for chains.Next() {
		var (
			pid, chain string
			rec        models.ChainRecord
		)
		if err := chains.Scan(&pid, &chain, &rec.Address, &rec.TxID, &rec.TxError); err != nil {
			return apperr.Persistence("scan chain record", err)
		}
		if p, ok := byID[pid]; ok {
			p.ChainRecords[models.Chain(chain)] = rec
		}
	}
	return apperr.Persistence("load chain records", chains.Err())
}

func isCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}
