// Package auth verifies Slack request signatures and signs OAuth state.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"slackgate/internal/domain"
)

// Header names carried on every signed Slack request.
const (
	HeaderTimestamp = "X-Slack-Request-Timestamp"
	HeaderSignature = "X-Slack-Signature"
)

// DefaultWindow is how far a request timestamp may drift from now.
const DefaultWindow = 5 * time.Minute

// Verifier checks the signature and freshness of inbound requests.
type Verifier struct {
	// Window bounds |now - timestamp|. Zero means DefaultWindow.
	Window time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewVerifier creates a verifier with the given replay window.
func NewVerifier(window time.Duration) *Verifier {
	return &Verifier{Window: window, Now: time.Now}
}

// Verify authenticates body against the signature headers. The replay
// window is checked before the signature, and both must pass.
func (v *Verifier) Verify(header http.Header, body []byte, secrets domain.SecretBundle) error {
	if secrets.SigningSecret == "" {
		return fmt.Errorf("%w: empty signing secret", domain.ErrSecretUnavailable)
	}

	ts := header.Get(HeaderTimestamp)
	if ts == "" {
		return fmt.Errorf("%w: %s", domain.ErrMissingHeader, HeaderTimestamp)
	}
	sig := header.Get(HeaderSignature)
	if sig == "" {
		return fmt.Errorf("%w: %s", domain.ErrMissingHeader, HeaderSignature)
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q is not an integer", domain.ErrReplayWindowExceeded, ts)
	}
	if drift := v.now().Sub(time.Unix(sec, 0)); drift > v.window() || drift < -v.window() {
		return fmt.Errorf("%w: drift %s", domain.ErrReplayWindowExceeded, drift.Round(time.Second))
	}

	expected := Sign(secrets.SigningSecret, secrets.Version(), ts, body)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return domain.ErrSignatureMismatch
	}
	return nil
}

func (v *Verifier) now() time.Time {
	if v.Now == nil {
		return time.Now()
	}
	return v.Now()
}

func (v *Verifier) window() time.Duration {
	if v.Window <= 0 {
		return DefaultWindow
	}
	return v.Window
}

// Sign returns "<version>=<hex hmac>" over "<version>:<ts>:<body>".
func Sign(secret, version, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(version + ":" + ts + ":"))
	mac.Write(body)
	return version + "=" + hex.EncodeToString(mac.Sum(nil))
}

// SignRequest sets both signature headers on r for body, as Slack would.
func SignRequest(r *http.Request, secret, version string, at time.Time, body []byte) {
	ts := strconv.FormatInt(at.Unix(), 10)
	r.Header.Set(HeaderTimestamp, ts)
	r.Header.Set(HeaderSignature, Sign(secret, version, ts, body))
}
