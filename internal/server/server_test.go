package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-bot/internal/codec"
	"referral-bot/internal/config"
	"referral-bot/internal/models"
	"referral-bot/internal/referral"
	"referral-bot/internal/store/memory"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls map[string][]string
	err   error
}

func (n *fakeNotifier) NotifyNewLink(_ context.Context, participantID, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.calls == nil {
		n.calls = map[string][]string{}
	}
	n.calls[participantID] = append(n.calls[participantID], url)
	return n.err
}

func (n *fakeNotifier) count(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls[id])
}

type fixture struct {
	h      *handler
	srv    http.Handler
	svc    *referral.Service
	notify *fakeNotifier
}

func newFixture(t *testing.T, origins ...string) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	svc, err := referral.NewService(memory.New(), referral.Options{
		WebsiteURL: "https://delegate.example.com/start",
		Operators:  []string{"op"},
		Chains:     []models.Chain{"tia", "fet"},
	}, log)
	require.NoError(t, err)
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	n := &fakeNotifier{}
	h := newHandler(svc, n, origins, time.Minute, log)
	return &fixture{h: h, srv: h.routes(), svc: svc, notify: n}
}

func (f *fixture) register(t *testing.T, id, ref string) referral.Registration {
	t.Helper()
	ctx := context.Background()
	if ok, _ := f.svc.Directory.IsDeveloperCode(ctx, "ABC123"); !ok {
		require.NoError(t, f.svc.Directory.AddDeveloperCode(ctx, "op", "ABC123"))
	}
	reg, err := f.svc.Engine.Register(ctx, id, ref, "en")
	require.NoError(t, err)
	return reg
}

func (f *fixture) post(t *testing.T, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	f.h.wg.Wait()

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func validateBody(participant, referrer, token string) map[string]string {
	return map[string]string{
		"participantId": codec.Encode(participant),
		"referrerId":    codec.Encode(referrer),
		"token":         token,
	}
}

func TestValidateLinkOnce(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", "ABC123")
	u2 := f.register(t, "u2", "u1")

	rec, out := f.post(t, "/link/validate", validateBody("u2", "u1", u2.Link.Token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["valid"])
	assert.Equal(t, 0, f.notify.count("u2"))

	rec, out = f.post(t, "/link/validate", validateBody("u2", "u1", u2.Link.Token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["valid"])
	assert.Equal(t, referral.MessageAlreadyUsed, out["message"])

	require.Equal(t, 1, f.notify.count("u2"))
	u, err := url.Parse(f.notify.calls["u2"][0])
	require.NoError(t, err)
	assert.NotEqual(t, u2.Link.Token, u.Query().Get(referral.ParamLinkID))
}

func TestValidateLinkErrors(t *testing.T) {
	f := newFixture(t)
	u1 := f.register(t, "u1", "ABC123")

	rec, out := f.post(t, "/link/validate", validateBody("u1", "someone-else", u1.Link.Token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid referrer", out["error"])

	rec, _ = f.post(t, "/link/validate", validateBody("ghost", "ABC123", u1.Link.Token))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, out = f.post(t, "/link/validate", map[string]string{"participantId": "%%%", "referrerId": "x", "token": "t"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid id format", out["error"])
	assert.Equal(t, 0, f.notify.count("u1"))

	rec, out = f.post(t, "/link/validate", validateBody("u1", "ABC123", "forged"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid link id", out["error"])
	assert.Equal(t, 1, f.notify.count("u1"))
}

func TestValidateLinkBadBody(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/link/validate", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestNotifyFailureDoesNotChangeAnswer(t *testing.T) {
	f := newFixture(t)
	f.notify.err = errors.New("bot blocked")
	u1 := f.register(t, "u1", "ABC123")

	f.post(t, "/link/validate", validateBody("u1", "ABC123", u1.Link.Token))
	rec, out := f.post(t, "/link/validate", validateBody("u1", "ABC123", u1.Link.Token))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["valid"])
	assert.Equal(t, 1, f.notify.count("u1"))
}

func TestResendThrottledPerParticipant(t *testing.T) {
	f := newFixture(t)
	u1 := f.register(t, "u1", "ABC123")
	f.register(t, "u2", "u1")

	f.post(t, "/link/validate", validateBody("u1", "ABC123", u1.Link.Token))
	for i := 0; i < 5; i++ {
		rec, out := f.post(t, "/link/validate", validateBody("u1", "ABC123", u1.Link.Token))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, out["valid"])
	}
	assert.Equal(t, 1, f.notify.count("u1"))

	p, err := f.svc.Directory.FindParticipant(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, p.UsedLinks, 2, "replays within the interval mint no extra links")

	f.post(t, "/link/validate", validateBody("u2", "u1", "forged"))
	assert.Equal(t, 1, f.notify.count("u2"), "each participant has its own budget")
}

type blockingNotifier struct {
	started chan string
	release chan struct{}
}

func (n *blockingNotifier) NotifyNewLink(_ context.Context, participantID, _ string) error {
	n.started <- participantID
	<-n.release
	return nil
}

func TestShutdownWaitsForNotifications(t *testing.T) {
	log, _ := test.NewNullLogger()
	svc, err := referral.NewService(memory.New(), referral.Options{
		WebsiteURL: "https://delegate.example.com/start",
		Operators:  []string{"op"},
		Chains:     []models.Chain{"tia"},
	}, log)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, svc.Directory.AddDeveloperCode(ctx, "op", "ABC123"))
	_, err = svc.Engine.Register(ctx, "u1", "ABC123", "en")
	require.NoError(t, err)

	n := &blockingNotifier{started: make(chan string, 1), release: make(chan struct{})}
	srv := New(config.Config{
		HTTPAddr:           "127.0.0.1:0",
		CORSOrigins:        []string{"*"},
		LinkResendInterval: time.Minute,
	}, svc, n, log)

	raw, err := json.Marshal(validateBody("u1", "ABC123", "forged"))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/link/validate", bytes.NewReader(raw)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "u1", <-n.started)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, srv.Shutdown(short), context.DeadlineExceeded)

	close(n.release)
	assert.NoError(t, srv.h.drain(ctx))
}

func TestRecordDelegation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", "ABC123")
	enc := codec.Encode("u1")

	rec, out := f.post(t, "/delegation/tia", map[string]string{
		"participantId": enc, "address": "celestia1abc", "txId": "TX1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{
		"participantId": enc, "address": "celestia1abc", "txId": "TX1", "txError": "",
	}, out)

	rec, out = f.post(t, "/delegation/TIA", map[string]string{
		"participantId": enc, "address": "celestia1xyz", "txError": "insufficient funds",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "celestia1xyz", out["address"])
	assert.Equal(t, "TX1", out["txId"])
	assert.Equal(t, "insufficient funds", out["txError"])

	rec, _ = f.post(t, "/delegation/fet", map[string]string{
		"participantId": enc, "address": "fetch1", "txId": "TX2",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	p, err := f.svc.Directory.FindParticipant(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "TX1", p.ChainRecords["tia"].TxID)
	assert.Equal(t, "TX2", p.ChainRecords["fet"].TxID)
}

func TestRecordDelegationErrors(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", "ABC123")

	rec, _ := f.post(t, "/delegation/btc", map[string]string{"participantId": codec.Encode("u1"), "address": "a"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.post(t, "/delegation/tia", map[string]string{"participantId": codec.Encode("ghost"), "address": "a"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.post(t, "/delegation/tia", map[string]string{"participantId": codec.Encode("u1")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.post(t, "/delegation/tia", map[string]string{"participantId": "", "address": "a"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, "https://app.example.com/")

	req := httptest.NewRequest(http.MethodOptions, "/link/validate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodPost, "/link/validate", bytes.NewBufferString("{}"))
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	open := newFixture(t)
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://anything.example.com")
	rec = httptest.NewRecorder()
	open.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", "ABC123")

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "referral_bot_links_minted_total")
	assert.Contains(t, rec.Body.String(), `path="/healthz"`)
}
