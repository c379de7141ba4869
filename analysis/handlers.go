// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modvet/engine/cost"
	"modvet/engine/kv"
	"modvet/engine/llm"
	"modvet/engine/shared/logger"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const ctxKeyClient contextKey = "client"

// Server exposes the analyzer over HTTP.
type Server struct {
	analyzer *Analyzer
	tracker  *cost.Tracker
	selector *llm.Selector
	throttle *Throttle
	store    kv.Store
	secret   []byte
	log      *logger.Logger
}

// ServerDeps wires the HTTP surface. Secret enables bearer-token auth when
// non-empty; Throttle and Store may be nil.
type ServerDeps struct {
	Analyzer *Analyzer
	Tracker  *cost.Tracker
	Selector *llm.Selector
	Throttle *Throttle
	Store    kv.Store
	Secret   string
	Log      *logger.Logger
}

func NewServer(deps ServerDeps) *Server {
	log := deps.Log
	if log == nil {
		log = logger.New("http")
	}
	var secret []byte
	if deps.Secret != "" {
		secret = []byte(deps.Secret)
	}
	return &Server{
		analyzer: deps.Analyzer,
		tracker:  deps.Tracker,
		selector: deps.Selector,
		throttle: deps.Throttle,
		store:    deps.Store,
		secret:   secret,
		log:      log,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// Health and metrics stay open so probes and scrapers need no token.
	r.HandleFunc("/healthz", s.instrument("healthz", s.handleHealth)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/v1/analyze", s.instrument("analyze", s.requireAuth(s.throttled(s.handleAnalyze)))).Methods("POST")
	r.HandleFunc("/v1/budget", s.instrument("budget", s.requireAuth(s.handleBudget))).Methods("GET")
	r.HandleFunc("/v1/providers", s.instrument("providers", s.requireAuth(s.handleProviders))).Methods("GET")
	r.HandleFunc("/v1/providers/{name}/health", s.instrument("provider_health", s.requireAuth(s.handleProviderHealth))).Methods("GET")

	return r
}

// analyzeRequest is the wire shape for POST /v1/analyze.
type analyzeRequest struct {
	SubjectID     string `json:"subject_id"`
	Text          string `json:"text"`
	TrustTier     string `json:"trust_tier"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tier, err := ParseTier(req.TrustTier)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := s.analyzer.Analyze(r.Context(), req.SubjectID, req.Text, tier, req.CorrelationID)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptySubject), errors.Is(err, ErrEmptyText), errors.Is(err, ErrUnknownTier):
			s.sendError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.sendError(w, "request canceled", http.StatusGatewayTimeout)
		default:
			s.log.ErrorWithCode(req.SubjectID, req.CorrelationID, "analysis failed",
				http.StatusInternalServerError, err, nil)
			s.sendError(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	// Degraded dispositions are valid outcomes, not transport errors.
	s.sendJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	status, err := s.tracker.BudgetStatus(r.Context())
	if err != nil {
		s.sendError(w, "cost ledger unavailable", http.StatusServiceUnavailable)
		return
	}

	promDailySpend.Set(float64(status.DailySpent))
	promBudgetPercent.Set(status.DailyPercent)

	s.sendJSON(w, http.StatusOK, status)
}

// providerStatus is one row of GET /v1/providers.
type providerStatus struct {
	Name    string              `json:"name"`
	Primary bool                `json:"primary"`
	Breaker llm.BreakerSnapshot `json:"breaker"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	names := s.selector.Names()
	statuses := make([]providerStatus, 0, len(names))
	for i, name := range names {
		statuses = append(statuses, providerStatus{
			Name:    name,
			Primary: i == 0,
			Breaker: s.selector.Breakers().For(name).Snapshot(),
		})
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"providers": statuses})
}

// handleProviderHealth pings one vendor live, unlike the passive breaker
// view in the provider list.
func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	provider := s.selector.ByName(name)
	if provider == nil {
		s.sendError(w, "unknown provider", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	body := map[string]interface{}{
		"name":       name,
		"healthy":    true,
		"checked_at": time.Now().UTC(),
	}
	if err := provider.HealthCheck(ctx); err != nil {
		body["healthy"] = false
		body["error"] = err.Error()
	}
	s.sendJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	redisOK := s.store != nil && s.store.Ping(ctx) == nil
	providersOK := s.selector != nil && s.selector.Len() > 0

	status := "ok"
	if !redisOK || !providersOK {
		status = "degraded"
	}

	// Always 200: a degraded analyzer still serves degraded outcomes.
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"service":   "modvet-analyzer",
		"version":   Version,
		"timestamp": time.Now().UTC(),
		"components": map[string]bool{
			"redis":     redisOK,
			"providers": providersOK,
		},
	})
}

// requireAuth validates a bearer token when a secret is configured. The
// client_id claim, when present, becomes the throttling identity.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.secret) == 0 {
			next(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			s.sendError(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		if err != nil || !token.Valid {
			s.sendError(w, "invalid token", http.StatusUnauthorized)
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if id, ok := claims["client_id"].(string); ok && id != "" {
				r = r.WithContext(context.WithValue(r.Context(), ctxKeyClient, id))
			}
		}
		next(w, r)
	}
}

// throttled enforces the per-client sliding window.
func (s *Server) throttled(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.throttle == nil {
			next(w, r)
			return
		}

		client := clientID(r)
		if !s.throttle.Allow(r.Context(), client) {
			if _, resetAt, err := s.throttle.Status(r.Context(), client); err == nil {
				retryAfter := int(time.Until(resetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			}
			s.sendError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// clientID resolves the throttling identity: authenticated client claim,
// then the X-Client-ID header, then the peer address.
func clientID(r *http.Request) string {
	if id, ok := r.Context().Value(ctxKeyClient).(string); ok && id != "" {
		return id
	}
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// instrument counts requests per route and status code.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		promHTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("", "", "encoding response failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, status, errorResponse{Error: message})
}
