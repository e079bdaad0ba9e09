package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"solbox/core/types"
	"solbox/crypto"
	"solbox/native/giftcard"
	"solbox/observability"
	"solbox/storage/journal"
)

const (
	maxRequestBody  = 1 << 16
	defaultPageSize = 100
	maxPageSize     = 1000
	metricsModule   = "giftcard"
)

// Ledger is the ledger surface served over HTTP.
type Ledger interface {
	Store(ctx context.Context) (*giftcard.Store, error)
	Relationships(ctx context.Context, offset, limit uint64) ([]giftcard.Relationship, error)
	SponsorReferrals(ctx context.Context, sponsor [20]byte) (uint64, error)
	Account(ctx context.Context, addr [20]byte) (*types.Account, error)
	Quote(ctx context.Context, buyer, sponsor [20]byte, amount uint64) (*giftcard.Receipt, error)
	Purchase(ctx context.Context, buyer, sponsor [20]byte, amount uint64) (*giftcard.Receipt, error)
	UpdateConfig(ctx context.Context, caller [20]byte, cfg giftcard.Config) (*giftcard.Store, error)
	TogglePause(ctx context.Context, caller [20]byte) (*giftcard.Store, error)
}

// EventLog is the committed event history.
type EventLog interface {
	List(ctx context.Context, after int64, limit int) ([]journal.Entry, error)
	OnAppend(fn func(journal.Entry))
}

// Config wires a Server.
type Config struct {
	Ledger    Ledger
	Journal   EventLog
	Auth      AuthConfig
	RateLimit RateLimit
	Logger    *slog.Logger
}

// Server exposes the ledger as a JSON API.
type Server struct {
	ledger  Ledger
	journal EventLog
	hub     *Hub
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	metrics interface {
		Observe(module, method string, status int, duration time.Duration)
	}
}

// New builds a server.
func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("rpc: ledger required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger:  cfg.Ledger,
		journal: cfg.Journal,
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger.With("component", "rpc"),
		metrics: observability.ModuleMetrics(),
	}
	if cfg.Journal != nil {
		s.hub = NewHub()
		cfg.Journal.OnAppend(s.hub.Publish)
	}
	return s, nil
}

// Hub returns the live event hub, or nil without a journal.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/store", s.handleStore)
		v1.Get("/relationships", s.handleRelationships)
		v1.Get("/sponsors/{address}", s.handleSponsor)
		v1.Get("/accounts/{address}", s.handleAccount)
		v1.Get("/events", s.handleEvents)
		v1.Get("/events/ws", s.handleEventsWS)

		v1.Group(func(authed chi.Router) {
			authed.Use(s.auth.Middleware)
			authed.Use(s.limiter.Middleware(metricsModule))
			authed.Post("/quote", s.handleQuote)
			authed.Post("/purchase", s.handlePurchase)
			authed.Put("/admin/config", s.handleUpdateConfig)
			authed.Post("/admin/pause", s.handleTogglePause)
		})
	})
	return otelhttp.NewHandler(r, "solbox-rpc")
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		method := r.Method + " " + r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				method = r.Method + " " + pattern
			}
		}
		s.metrics.Observe(metricsModule, method, status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("ledger call failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, err.Error())
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parseIdentityParam(w http.ResponseWriter, raw string) ([20]byte, bool) {
	id, err := crypto.ParseIdentity(strings.TrimSpace(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return id, false
	}
	return id, true
}

func queryUint(r *http.Request, key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return v, nil
}

// clampSeq narrows a journal cursor to the sqlite integer range.
func clampSeq(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func pageLimit(r *http.Request) (uint64, error) {
	limit, err := queryUint(r, "limit", defaultPageSize)
	if err != nil {
		return 0, err
	}
	if limit == 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	return limit, nil
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	store, err := s.ledger.Store(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, storeResult(store))
}

func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request) {
	offset, err := queryUint(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	limit, err := pageLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	rels, err := s.ledger.Relationships(r.Context(), offset, limit)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, relationshipResults(rels))
}

func (s *Server) handleSponsor(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIdentityParam(w, chi.URLParam(r, "address"))
	if !ok {
		return
	}
	count, err := s.ledger.SponsorReferrals(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	store, err := s.ledger.Store(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SponsorResult{
		Address:   formatIdentity(id),
		Referrals: count,
		Capacity:  store.Config.ReferralLimit,
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIdentityParam(w, chi.URLParam(r, "address"))
	if !ok {
		return
	}
	acc, err := s.ledger.Account(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResult(id, acc))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable", "event journal not configured")
		return
	}
	after, err := queryUint(r, "after", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	limit, err := pageLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	entries, err := s.journal.List(r.Context(), clampSeq(after), int(limit))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) purchaseArgs(w http.ResponseWriter, r *http.Request) (buyer, sponsor [20]byte, amount uint64, ok bool) {
	buyer, ok = CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "missing caller")
		return
	}
	var req PurchaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		ok = false
		return
	}
	if sponsor, ok = parseIdentityParam(w, req.Sponsor); !ok {
		return
	}
	var err error
	if amount, err = parseAmount(req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
		ok = false
		return
	}
	return buyer, sponsor, amount, true
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	buyer, sponsor, amount, ok := s.purchaseArgs(w, r)
	if !ok {
		return
	}
	receipt, err := s.ledger.Quote(r.Context(), buyer, sponsor, amount)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResult(receipt))
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	buyer, sponsor, amount, ok := s.purchaseArgs(w, r)
	if !ok {
		return
	}
	receipt, err := s.ledger.Purchase(r.Context(), buyer, sponsor, amount)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.logger.Info("purchase completed",
		"request_id", chimw.GetReqID(r.Context()),
		"buyer", formatIdentity(buyer),
		"sponsor", formatIdentity(receipt.Sponsor),
		"amount", receipt.Amount,
		"spillover", receipt.Spillover)
	writeJSON(w, http.StatusOK, receiptResult(receipt))
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "missing caller")
		return
	}
	var payload ConfigPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	cfg, err := payload.Config()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	store, err := s.ledger.UpdateConfig(r.Context(), caller, cfg)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, storeResult(store))
}

func (s *Server) handleTogglePause(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "missing caller")
		return
	}
	store, err := s.ledger.TogglePause(r.Context(), caller)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, storeResult(store))
}
