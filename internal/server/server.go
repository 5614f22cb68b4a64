package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"referral-bot/internal/apperr"
	"referral-bot/internal/codec"
	"referral-bot/internal/config"
	"referral-bot/internal/metrics"
	"referral-bot/internal/referral"
)

const (
	maxBodyBytes  = 64 << 10
	notifyTimeout = 15 * time.Second

	// resend limiters are dropped wholesale past this many participants
	maxResendLimiters = 10000
)

// Notifier pushes a replacement link to the participant's chat.
type Notifier interface {
	NotifyNewLink(ctx context.Context, participantID, url string) error
}

type handler struct {
	svc       *referral.Service
	notify    Notifier
	log       logrus.FieldLogger
	origins   map[string]bool
	anyOrigin bool

	resendMu    sync.Mutex
	resendEvery rate.Limit
	resend      map[string]*rate.Limiter

	// tracks background notifications
	wg sync.WaitGroup
}

// Server is the HTTP side of the bot. Shutdown also waits for link
// notifications started by earlier requests.
type Server struct {
	*http.Server
	h *handler
}

func New(cfg config.Config, svc *referral.Service, notify Notifier, log logrus.FieldLogger) *Server {
	h := newHandler(svc, notify, cfg.CORSOrigins, cfg.LinkResendInterval, log)
	return &Server{
		Server: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           h.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		h: h,
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	if derr := s.h.drain(ctx); err == nil {
		err = derr
	}
	return err
}

func newHandler(svc *referral.Service, notify Notifier, origins []string, resendInterval time.Duration, log logrus.FieldLogger) *handler {
	h := &handler{
		svc:         svc,
		notify:      notify,
		log:         log,
		origins:     map[string]bool{},
		resendEvery: rate.Every(resendInterval),
		resend:      map[string]*rate.Limiter{},
	}
	if resendInterval <= 0 {
		h.resendEvery = rate.Inf
	}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			h.anyOrigin = true
		} else if o != "" {
			h.origins[o] = true
		}
	}
	return h
}

func (h *handler) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(h.corsMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return metrics.InstrumentHandler(next, routeTemplate)
	})

	r.HandleFunc("/link/validate", h.validateLink).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/delegation/{chain}", h.recordDelegation).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return ""
}

func (h *handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !h.anyOrigin && !h.origins[origin] {
				http.Error(w, "CORS origin not allowed", http.StatusForbidden)
				return
			}
			allow := origin
			if h.anyOrigin {
				allow = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", allow)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------- Link validation ----------

type validateRequest struct {
	ParticipantID string `json:"participantId"`
	ReferrerID    string `json:"referrerId"`
	Token         string `json:"token"`
}

func (h *handler) validateLink(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	participantID, err := codec.Decode(req.ParticipantID)
	if err != nil {
		writeError(w, err)
		return
	}
	referrerID, err := codec.Decode(req.ReferrerID)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.Links.Validate(r.Context(), participantID, referrerID, strings.TrimSpace(req.Token))
	if err != nil {
		if errors.Is(err, referral.ErrInvalidToken) {
			h.resendLink(participantID)
		}
		h.logFailure(r, err, logrus.Fields{"participant": participantID})
		writeError(w, err)
		return
	}
	if !res.Valid {
		h.resendLink(participantID)
	}
	writeJSON(w, http.StatusOK, res)
}

// resendLink mints a replacement link and delivers it through the bot, at
// most once per resend interval for each participant. Failures are logged
// and counted; the HTTP answer does not wait for them.
func (h *handler) resendLink(participantID string) {
	if h.notify == nil {
		return
	}
	if !h.resendLimiter(participantID).Allow() {
		h.log.WithField("participant", participantID).Debug("link resend throttled")
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		log := h.log.WithField("participant", participantID)
		link, err := h.svc.Links.Reissue(ctx, participantID)
		if err != nil {
			metrics.RecordNotifyFailure()
			log.WithError(err).Warn("reissue link")
			return
		}
		if err := h.notify.NotifyNewLink(ctx, participantID, link.URL); err != nil {
			metrics.RecordNotifyFailure()
			log.WithError(err).Warn("notify participant")
		}
	}()
}

func (h *handler) resendLimiter(participantID string) *rate.Limiter {
	h.resendMu.Lock()
	defer h.resendMu.Unlock()

	l, ok := h.resend[participantID]
	if !ok {
		if len(h.resend) >= maxResendLimiters {
			h.resend = map[string]*rate.Limiter{}
		}
		l = rate.NewLimiter(h.resendEvery, 1)
		h.resend[participantID] = l
	}
	return l
}

// drain blocks until background notifications finish or ctx ends.
func (h *handler) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------- Delegation ----------

type delegationRequest struct {
	ParticipantID string `json:"participantId"`
	Address       string `json:"address"`
	TxID          string `json:"txId"`
	TxError       string `json:"txError"`
}

type delegationResponse struct {
	ParticipantID string `json:"participantId"`
	Address       string `json:"address"`
	TxID          string `json:"txId"`
	TxError       string `json:"txError"`
}

func (h *handler) recordDelegation(w http.ResponseWriter, r *http.Request) {
	chain := referral.NormalizeChain(mux.Vars(r)["chain"])

	var req delegationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	participantID, err := codec.Decode(req.ParticipantID)
	if err != nil {
		writeError(w, err)
		return
	}

	d, err := h.svc.Recorder.Record(r.Context(), chain, participantID, req.Address, req.TxID, req.TxError)
	if err != nil {
		h.logFailure(r, err, logrus.Fields{"participant": participantID, "chain": chain})
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, delegationResponse{
		ParticipantID: codec.Encode(d.ParticipantID),
		Address:       d.Address,
		TxID:          d.TxID,
		TxError:       d.TxError,
	})
}

// ---------- helpers ----------

var errBadBody = apperr.New(apperr.KindValidation, "invalid request body")

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadBody
	}
	return nil
}

func (h *handler) logFailure(r *http.Request, err error, fields logrus.Fields) {
	entry := h.log.WithFields(fields).WithField("path", r.URL.Path).WithError(err)
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		entry.Error("request failed")
		return
	}
	entry.Debug("request rejected")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	reason := apperr.Reason(err)
	if status >= http.StatusInternalServerError {
		reason = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": reason})
}
