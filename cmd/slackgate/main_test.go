package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"slackgate/internal/auth"
	"slackgate/internal/config"
	"slackgate/internal/consumer"
	"slackgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	secretPath := filepath.Join(t.TempDir(), "slack.json")
	doc := `{"SLACK_SIGNING_SECRET":"shh","SLACK_TOKEN":"xoxb-test"}`
	if err := os.WriteFile(secretPath, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.Secrets.Backend = "file"
	cfg.Secrets.ID = secretPath
	cfg.Publish.Transport = "memory"
	return cfg
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	newLogger(config.LogConfig{Level: "debug", Format: "json"}, &buf).Debug("hello", "k", "v")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"k":"v"`) {
		t.Errorf("expected JSON debug line, got %q", buf.String())
	}

	buf.Reset()
	newLogger(config.LogConfig{Level: "warn", Format: "text"}, &buf).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at warn, got %q", buf.String())
	}
}

func TestLoadConfig_ExplicitPathMustExist(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "missing.yaml")
	defer func() { configPath = "" }()

	if _, err := loadConfig(); err == nil {
		t.Error("expected error for missing --config file")
	}
}

func TestComponents_UnknownEncoding(t *testing.T) {
	cfg := testConfig(t)
	cfg.Publish.Encoding = "xml"
	if _, err := newComponents(cfg, testLogger()); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestComponents_GatewayPublishesToMemoryBus(t *testing.T) {
	cfg := testConfig(t)
	comps, err := newComponents(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer comps.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport, bus, err := comps.newTransport(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if bus == nil {
		t.Fatal("expected memory bus")
	}

	got := make(chan string, 1)
	bus.Subscribe("*", func(_ context.Context, rec domain.Record, topic string) {
		got <- topic
	})
	go bus.Run(ctx)

	gw, err := comps.newGateway(ctx, transport)
	if err != nil {
		t.Fatal(err)
	}

	body := []byte(`{"type":"event_callback","event":{"type":"app_mention","text":"hi"}}`)
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
	auth.SignRequest(req, "shh", "v0", time.Now(), body)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	select {
	case topic := <-got:
		if topic != "slack_app_mention" {
			t.Errorf("expected topic slack_app_mention, got %s", topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published record")
	}
}

func TestComponents_LocalConsumerPostsToSlack(t *testing.T) {
	var (
		mu    sync.Mutex
		forms []string
	)
	done := make(chan struct{}, 1)
	slackAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		mu.Lock()
		forms = append(forms, r.URL.Path+" "+r.PostForm.Get("channel")+" "+r.PostForm.Get("text"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
		done <- struct{}{}
	}))
	defer slackAPI.Close()

	cfg := testConfig(t)
	cfg.Slack.APIURL = slackAPI.URL + "/"
	comps, err := newComponents(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer comps.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport, bus, err := comps.newTransport(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cons, err := comps.newConsumer(ctx, consumer.PostMessage)
	if err != nil {
		t.Fatal(err)
	}
	bus.Subscribe("slack_outbound", cons.MemoryHandler())
	go bus.Run(ctx)

	if _, err := transport.Send(ctx, "slack_outbound", []byte(`{"channel":"C1","text":"hello"}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chat.postMessage")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(forms) != 1 || forms[0] != "/chat.postMessage C1 hello" {
		t.Errorf("unexpected Slack calls: %v", forms)
	}
}
