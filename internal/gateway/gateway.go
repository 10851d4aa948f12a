// Package gateway is the inbound HTTP surface: it authenticates Slack
// requests, classifies them and publishes them to their topics.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"

	"slackgate/internal/auth"
	"slackgate/internal/classify"
	"slackgate/internal/domain"
	"slackgate/internal/metrics"
	"slackgate/internal/publish"
	"slackgate/internal/slackapi"
)

const maxBodySize = 1 << 20 // 1MB

// InstallationStore persists completed OAuth installations.
type InstallationStore interface {
	Save(ctx context.Context, inst slackapi.Installation) error
}

// Config configures a Gateway.
type Config struct {
	Secrets   domain.SecretSource
	Verifier  *auth.Verifier
	Publisher *publish.Publisher
	Exchanger slackapi.Exchanger

	// Installations is optional.
	Installations InstallationStore
	// Metrics, when set, is served at GET /metrics.
	Metrics http.Handler

	BasePath string
	OAuth    OAuthConfig
	Logger   *slog.Logger
}

// Gateway is an http.Handler over a static route table.
type Gateway struct {
	secrets   domain.SecretSource
	verifier  *auth.Verifier
	publisher *publish.Publisher
	exchanger slackapi.Exchanger
	installs  InstallationStore
	metrics   http.Handler
	basePath  string
	oauth     OAuthConfig
	logger    *slog.Logger

	routes map[routeKey]route
}

type routeKey struct {
	method string
	path   string
}

type route struct {
	name   string
	handle func(g *Gateway, w http.ResponseWriter, r *http.Request, rs *requestState) error
}

// signedRoute describes a route that carries a signed Slack payload.
type signedRoute struct {
	shape   classify.Shape
	accepts []domain.PayloadKind
	status  int
}

var (
	eventsRoute = signedRoute{
		shape:   classify.ShapeJSON,
		accepts: []domain.PayloadKind{domain.KindURLVerification, domain.KindEventCallback},
		status:  http.StatusOK,
	}
	callbacksRoute = signedRoute{
		shape:   classify.ShapeForm,
		accepts: []domain.PayloadKind{domain.KindInteractiveCallback},
		status:  http.StatusNoContent,
	}
	slashRoute = signedRoute{
		shape:   classify.ShapeForm,
		accepts: []domain.PayloadKind{domain.KindSlashCommand},
		status:  http.StatusNoContent,
	}
)

// New creates a Gateway.
func New(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = auth.NewVerifier(auth.DefaultWindow)
	}
	exchanger := cfg.Exchanger
	if exchanger == nil {
		exchanger = &slackapi.OAuthExchanger{}
	}
	g := &Gateway{
		secrets:   cfg.Secrets,
		verifier:  verifier,
		publisher: cfg.Publisher,
		exchanger: exchanger,
		installs:  cfg.Installations,
		metrics:   cfg.Metrics,
		basePath:  normalizeBasePath(cfg.BasePath),
		oauth:     cfg.OAuth,
		logger:    logger,
	}

	g.routes = map[routeKey]route{
		{http.MethodGet, "/oauth"}:           {"oauth", (*Gateway).handleOAuth},
		{http.MethodGet, "/install"}:         {"install", (*Gateway).handleInstall},
		{http.MethodPost, "/events"}:         {"events", eventsRoute.handler},
		{http.MethodPost, "/callbacks"}:      {"callbacks", callbacksRoute.handler},
		{http.MethodPost, "/slash-commands"}: {"slash-commands", slashRoute.handler},
		{http.MethodGet, "/health"}:          {"health", (*Gateway).handleHealth},
	}
	if g.metrics != nil {
		g.routes[routeKey{http.MethodGet, "/metrics"}] = route{"metrics", (*Gateway).handleMetrics}
	}
	return g
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (g *Gateway) lookup(method, path string) (route, error) {
	rel, ok := g.stripBase(path)
	if ok {
		if rt, found := g.routes[routeKey{method, rel}]; found {
			return rt, nil
		}
	}
	return route{}, fmt.Errorf("%w: %s %s", domain.ErrNotFound, method, path)
}

func (g *Gateway) stripBase(path string) (string, bool) {
	if g.basePath == "" {
		return path, true
	}
	rel, ok := strings.CutPrefix(path, g.basePath)
	if !ok || (rel != "" && !strings.HasPrefix(rel, "/")) {
		return "", false
	}
	if rel == "" {
		rel = "/"
	}
	return rel, true
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	rs := &requestState{
		id:    uuid.NewString(),
		state: stateIdle,
	}
	logger := g.logger.With("request_id", rs.id, "method", r.Method, "path", r.URL.Path)
	rs.logger = logger
	rec := &statusRecorder{ResponseWriter: w}

	name := "unmatched"
	rt, err := g.lookup(r.Method, r.URL.Path)
	if err == nil {
		name = rt.name
		err = rt.handle(g, rec, r, rs)
	}

	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "state", rs.state, "status", status, "err", err)
		} else {
			logger.Warn("request rejected", "state", rs.state, "status", status, "err", err)
		}
		writeError(rec, status, err)
	}
	metrics.Request(name, rec.status()).Inc()
}

// handler runs the signed-payload steps: secrets, verification,
// classification and dispatch.
func (sr signedRoute) handler(g *Gateway, w http.ResponseWriter, r *http.Request, rs *requestState) error {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrMalformedPayload, err)
	}
	if len(body) > maxBodySize {
		return fmt.Errorf("%w: body exceeds %d bytes", domain.ErrMalformedPayload, maxBodySize)
	}

	secrets, err := g.secrets.Get(ctx)
	if err != nil {
		return err
	}
	rs.advance(stateSecretsReady)

	if err := g.verifier.Verify(r.Header, body, secrets); err != nil {
		if domain.IsAuthError(err) {
			metrics.AuthFailures.Inc()
		}
		return err
	}
	rs.advance(stateAuthenticated)

	shape := classify.ShapeFromContentType(r.Header.Get("Content-Type"), sr.shape)
	payload, err := classify.Classify(body, shape)
	if err != nil {
		return err
	}
	if !slices.Contains(sr.accepts, payload.Kind) {
		return fmt.Errorf("%w: %s payload on this route", domain.ErrMalformedPayload, payload.Kind)
	}
	metrics.PayloadKind(string(payload.Kind)).Inc()
	rs.advance(stateClassified)

	if payload.Kind == domain.KindURLVerification {
		rs.advance(stateDispatched)
		writeChallenge(w, payload.Key)
		return nil
	}

	rcpt, err := g.publisher.Publish(ctx, payload)
	if err != nil {
		return err
	}
	rs.advance(stateDispatched)
	rs.logger.Info("payload dispatched", "kind", payload.Kind, "topic", rcpt.Topic, "message_id", rcpt.MessageID)

	w.WriteHeader(sr.status)
	return nil
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request, rs *requestState) error {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	return nil
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request, rs *requestState) error {
	g.metrics.ServeHTTP(w, r)
	return nil
}
