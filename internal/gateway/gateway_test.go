package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"slackgate/internal/auth"
	"slackgate/internal/domain"
	"slackgate/internal/publish"
	"slackgate/internal/slackapi"
)

const signingSecret = "test-signing-secret"

var fixedNow = time.Unix(1_700_000_000, 0)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeSecrets struct {
	bundle domain.SecretBundle
	err    error
}

func (f fakeSecrets) Get(context.Context) (domain.SecretBundle, error) { return f.bundle, f.err }

var goodSecrets = fakeSecrets{bundle: domain.SecretBundle{
	SigningSecret: signingSecret,
	BotToken:      "xoxb-1",
	ClientID:      "cid",
	ClientSecret:  "csec",
}}

type fakeTransport struct {
	mu   sync.Mutex
	sent []domain.Envelope
	err  error
}

func (f *fakeTransport) Send(ctx context.Context, topic string, message []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, domain.Envelope{Topic: topic, Message: message})
	return "id-1", nil
}

type fakeExchanger struct {
	code string
	inst slackapi.Installation
	err  error
}

func (f *fakeExchanger) Exchange(ctx context.Context, code, redirectURI string, secrets domain.SecretBundle) (slackapi.Installation, error) {
	f.code = code
	return f.inst, f.err
}

type fakeStore struct {
	saved []slackapi.Installation
	err   error
}

func (f *fakeStore) Save(ctx context.Context, inst slackapi.Installation) error {
	f.saved = append(f.saved, inst)
	return f.err
}

type harness struct {
	gw        *Gateway
	transport *fakeTransport
	exchanger *fakeExchanger
	store     *fakeStore
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{},
		exchanger: &fakeExchanger{inst: slackapi.Installation{TeamID: "T1", TeamDomain: "acme"}},
		store:     &fakeStore{},
	}
	cfg := Config{
		Secrets:       goodSecrets,
		Verifier:      &auth.Verifier{Window: auth.DefaultWindow, Now: func() time.Time { return fixedNow }},
		Publisher:     publish.New(publish.Config{Transport: h.transport, TopicPrefix: "slack_", Logger: testLogger()}),
		Exchanger:     h.exchanger,
		Installations: h.store,
		Logger:        testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.gw = New(cfg)
	return h
}

func signed(method, target, contentType, body string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	auth.SignRequest(r, signingSecret, "v0", fixedNow, []byte(body))
	return r
}

func (h *harness) do(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.gw.ServeHTTP(rec, r)
	return rec
}

const (
	jsonCT = "application/json"
	formCT = "application/x-www-form-urlencoded"
)

func TestGateway_URLVerification(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(signed(http.MethodPost, "/events", jsonCT, `{"type":"url_verification","challenge":"abc123"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["challenge"] != "abc123" {
		t.Errorf("expected challenge abc123, got %v", resp)
	}
	if len(h.transport.sent) != 0 {
		t.Error("url_verification must not publish")
	}
}

func TestGateway_EventPublished(t *testing.T) {
	h := newHarness(t, nil)
	body := `{"type":"event_callback","event":{"type":"message","text":"hi"}}`
	rec := h.do(signed(http.MethodPost, "/events", jsonCT, body))

	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("expected empty 200, got %d: %s", rec.Code, rec.Body)
	}
	if len(h.transport.sent) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(h.transport.sent))
	}
	if got := h.transport.sent[0]; got.Topic != "slack_message" || string(got.Message) != body {
		t.Errorf("unexpected envelope %+v", got)
	}
}

func TestGateway_CallbackPublished(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(signed(http.MethodPost, "/callbacks", formCT, `payload=%7B%22callback_id%22%3A%22approve%22%7D`))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body)
	}
	if len(h.transport.sent) != 1 || h.transport.sent[0].Topic != "slack_approve" {
		t.Errorf("unexpected publishes %+v", h.transport.sent)
	}
}

func TestGateway_SlashCommandPublished(t *testing.T) {
	h := newHarness(t, nil)
	// No Content-Type: the route default (form) applies.
	rec := h.do(signed(http.MethodPost, "/slash-commands", "", `command=%2Fdeploy&text=prod`))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body)
	}
	if len(h.transport.sent) != 1 || h.transport.sent[0].Topic != "slack_slash_deploy" {
		t.Errorf("unexpected publishes %+v", h.transport.sent)
	}
}

func TestGateway_AuthFailureNeverPublishes(t *testing.T) {
	h := newHarness(t, nil)
	body := `{"type":"event_callback","event":{"type":"message"}}`

	tampered := signed(http.MethodPost, "/events", jsonCT, body)
	tampered.Header.Set(auth.HeaderSignature, "v0=0000")

	stale := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	auth.SignRequest(stale, signingSecret, "v0", fixedNow.Add(-10*time.Minute), []byte(body))

	unsigned := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))

	for name, r := range map[string]*http.Request{"tampered": tampered, "stale": stale, "unsigned": unsigned} {
		rec := h.do(r)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, rec.Code)
		}
	}
	if len(h.transport.sent) != 0 {
		t.Errorf("auth failures must not publish, got %d", len(h.transport.sent))
	}
}

func TestGateway_NotFound(t *testing.T) {
	h := newHarness(t, nil)
	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/events", nil),
		httptest.NewRequest(http.MethodPost, "/nope", nil),
		httptest.NewRequest(http.MethodDelete, "/callbacks", nil),
		httptest.NewRequest(http.MethodGet, "/metrics", nil),
	} {
		rec := h.do(r)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", r.Method, r.URL.Path, rec.Code)
		}
	}
}

func TestGateway_BasePath(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.BasePath = "/slack/" })
	body := `{"type":"url_verification","challenge":"x"}`

	if rec := h.do(signed(http.MethodPost, "/slack/events", jsonCT, body)); rec.Code != http.StatusOK {
		t.Errorf("expected 200 under base path, got %d", rec.Code)
	}
	if rec := h.do(signed(http.MethodPost, "/events", jsonCT, body)); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 outside base path, got %d", rec.Code)
	}
	if rec := h.do(signed(http.MethodPost, "/slackevents", jsonCT, body)); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for prefix lookalike, got %d", rec.Code)
	}
}

func TestGateway_PublishFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.err = errors.New("sns down")

	rec := h.do(signed(http.MethodPost, "/events", jsonCT, `{"type":"event_callback","event":{"type":"message"}}`))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sns down") {
		t.Error("server errors must not leak detail")
	}
}

func TestGateway_SecretsUnavailable(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Secrets = fakeSecrets{err: domain.ErrSecretUnavailable} })
	rec := h.do(signed(http.MethodPost, "/events", jsonCT, `{"type":"url_verification","challenge":"x"}`))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestGateway_MalformedAndWrongRoute(t *testing.T) {
	h := newHarness(t, nil)
	cases := map[string]*http.Request{
		"bad json":          signed(http.MethodPost, "/events", jsonCT, `{`),
		"event on slash":    signed(http.MethodPost, "/slash-commands", jsonCT, `{"type":"event_callback","event":{"type":"message"}}`),
		"slash on events":   signed(http.MethodPost, "/events", formCT, `command=%2Fdeploy`),
		"slash on callback": signed(http.MethodPost, "/callbacks", formCT, `command=%2Fdeploy`),
	}
	for name, r := range cases {
		if rec := h.do(r); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, rec.Code)
		}
	}
	if len(h.transport.sent) != 0 {
		t.Error("malformed requests must not publish")
	}
}

func TestGateway_OversizedBody(t *testing.T) {
	h := newHarness(t, nil)
	body := `{"type":"event_callback","event":{"type":"message"},"pad":"` + strings.Repeat("x", maxBodySize) + `"}`
	if rec := h.do(signed(http.MethodPost, "/events", jsonCT, body)); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestGateway_Health(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body)
	}
}

func TestGateway_Metrics(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("up 1\n")) })
	})
	rec := h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "up 1\n" {
		t.Errorf("unexpected metrics response %d %s", rec.Code, rec.Body)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrNotFound:             http.StatusNotFound,
		domain.ErrMissingHeader:        http.StatusBadRequest,
		domain.ErrReplayWindowExceeded: http.StatusBadRequest,
		domain.ErrSignatureMismatch:    http.StatusBadRequest,
		domain.ErrMalformedPayload:     http.StatusBadRequest,
		auth.ErrInvalidState:           http.StatusBadRequest,
		domain.ErrSecretUnavailable:    http.StatusInternalServerError,
		domain.ErrPublish:              http.StatusInternalServerError,
		errors.New("boom"):             http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Errorf("%v: expected %d, got %d", err, want, got)
		}
	}
}

func TestGateway_RequestIDPerRequest(t *testing.T) {
	h := newHarness(t, nil)
	var ids []string
	h.gw.routes[routeKey{http.MethodGet, "/probe"}] = route{"probe", func(g *Gateway, w http.ResponseWriter, r *http.Request, rs *requestState) error {
		ids = append(ids, rs.id)
		return nil
	}}
	h.do(httptest.NewRequest(http.MethodGet, "/probe", nil))
	h.do(httptest.NewRequest(http.MethodGet, "/probe", nil))
	if len(ids) != 2 || ids[0] == "" || ids[0] == ids[1] {
		t.Errorf("expected two distinct request ids, got %v", ids)
	}
}
