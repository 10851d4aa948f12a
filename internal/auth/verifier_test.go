package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"slackgate/internal/domain"
)

var (
	fixedNow = time.Unix(1_700_000_000, 0)
	bundle   = domain.SecretBundle{SigningSecret: "8f742231b10e8888abcd99yyyzzz85a5"}
	body     = []byte("token=xyzz0WbapA4vBCDEFasx0q6G&team_id=T1DC2JH3J&command=%2Fweather&text=94070")
)

func fixedVerifier() *Verifier {
	return &Verifier{Window: DefaultWindow, Now: func() time.Time { return fixedNow }}
}

func signedHeader(at time.Time, b []byte) http.Header {
	r := httptest.NewRequest(http.MethodPost, "/slash-commands", nil)
	SignRequest(r, bundle.SigningSecret, "v0", at, b)
	return r.Header
}

func TestVerify_Valid(t *testing.T) {
	v := fixedVerifier()
	for _, offset := range []time.Duration{0, -299 * time.Second, 299 * time.Second, -5 * time.Minute} {
		if err := v.Verify(signedHeader(fixedNow.Add(offset), body), body, bundle); err != nil {
			t.Errorf("offset %s: expected success, got %v", offset, err)
		}
	}
}

func TestVerify_KnownSignature(t *testing.T) {
	// Example request from Slack's signing documentation.
	secret := "8f742231b10e8888abcd99yyyzzz85a5"
	b := []byte("token=xyzz0WbapA4vBCDEFasx0q6G&team_id=T1DC2JH3J&team_domain=testteamnow&channel_id=G8PSS9T3V&channel_name=foobar&user_id=U2CERLKJA&user_name=roadrunner&command=%2Fwebhook-collect&text=&response_url=https%3A%2F%2Fhooks.slack.com%2Fcommands%2FT1DC2JH3J%2F397700885554%2F96rGlfmibIGlgcZRskXaIFfN&trigger_id=398738663015.47445629121.803a0bc887a14d10d2c447fce8b6703c")
	got := Sign(secret, "v0", "1531420618", b)
	want := "v0=a2114d57b48eac39b9ad189dd8316235a7b4a8d21a10bd27519666489c69b503"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestVerify_BodyBitFlip(t *testing.T) {
	v := fixedVerifier()
	h := signedHeader(fixedNow, body)
	for i := 0; i < len(body); i += 7 {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), body...)
			mutated[i] ^= 1 << bit
			if err := v.Verify(h, mutated, bundle); !errors.Is(err, domain.ErrSignatureMismatch) {
				t.Fatalf("byte %d bit %d: expected ErrSignatureMismatch, got %v", i, bit, err)
			}
		}
	}
}

func TestVerify_SignatureBitFlip(t *testing.T) {
	v := fixedVerifier()
	h := signedHeader(fixedNow, body)
	sig := h.Get(HeaderSignature)
	for i := 0; i < len(sig); i++ {
		mutated := []byte(sig)
		mutated[i] ^= 1
		h2 := h.Clone()
		h2.Set(HeaderSignature, string(mutated))
		if err := v.Verify(h2, body, bundle); !errors.Is(err, domain.ErrSignatureMismatch) {
			t.Fatalf("char %d: expected ErrSignatureMismatch, got %v", i, err)
		}
	}
}

func TestVerify_ReplayWindow(t *testing.T) {
	v := fixedVerifier()
	for _, offset := range []time.Duration{301 * time.Second, -301 * time.Second, -24 * time.Hour} {
		err := v.Verify(signedHeader(fixedNow.Add(offset), body), body, bundle)
		if !errors.Is(err, domain.ErrReplayWindowExceeded) {
			t.Errorf("offset %s: expected ErrReplayWindowExceeded, got %v", offset, err)
		}
		if !domain.IsAuthError(err) {
			t.Errorf("offset %s: expected an auth error", offset)
		}
	}
}

func TestVerify_ReplayCheckedBeforeSignature(t *testing.T) {
	v := fixedVerifier()
	h := signedHeader(fixedNow.Add(-time.Hour), body)
	h.Set(HeaderSignature, "v0=deadbeef")
	if err := v.Verify(h, body, bundle); !errors.Is(err, domain.ErrReplayWindowExceeded) {
		t.Errorf("expected ErrReplayWindowExceeded, got %v", err)
	}
}

func TestVerify_NonIntegerTimestamp(t *testing.T) {
	v := fixedVerifier()
	h := signedHeader(fixedNow, body)
	h.Set(HeaderTimestamp, "yesterday")
	if err := v.Verify(h, body, bundle); !errors.Is(err, domain.ErrReplayWindowExceeded) {
		t.Errorf("expected ErrReplayWindowExceeded, got %v", err)
	}
}

func TestVerify_MissingHeaders(t *testing.T) {
	v := fixedVerifier()
	for _, drop := range []string{HeaderTimestamp, HeaderSignature} {
		h := signedHeader(fixedNow, body)
		h.Del(drop)
		err := v.Verify(h, body, bundle)
		if !errors.Is(err, domain.ErrMissingHeader) {
			t.Errorf("without %s: expected ErrMissingHeader, got %v", drop, err)
		}
		if !strings.Contains(err.Error(), drop) {
			t.Errorf("error should name the header: %v", err)
		}
	}
}

func TestVerify_EmptySecret(t *testing.T) {
	v := fixedVerifier()
	err := v.Verify(signedHeader(fixedNow, body), body, domain.SecretBundle{})
	if !errors.Is(err, domain.ErrSecretUnavailable) {
		t.Errorf("expected ErrSecretUnavailable, got %v", err)
	}
}

func TestVerify_CustomVersion(t *testing.T) {
	v := fixedVerifier()
	b := bundle
	b.SigningVersion = "v1"
	r := httptest.NewRequest(http.MethodPost, "/events", nil)
	SignRequest(r, b.SigningSecret, "v1", fixedNow, body)
	if err := v.Verify(r.Header, body, b); err != nil {
		t.Errorf("expected success with v1, got %v", err)
	}
	if err := v.Verify(r.Header, body, bundle); !errors.Is(err, domain.ErrSignatureMismatch) {
		t.Errorf("v1 signature must not verify as v0, got %v", err)
	}
}

func TestVerify_ConfigurableWindow(t *testing.T) {
	v := &Verifier{Window: 10 * time.Second, Now: func() time.Time { return fixedNow }}
	h := signedHeader(fixedNow.Add(-11*time.Second), body)
	if err := v.Verify(h, body, bundle); !errors.Is(err, domain.ErrReplayWindowExceeded) {
		t.Errorf("expected ErrReplayWindowExceeded, got %v", err)
	}
	if got := h.Get(HeaderTimestamp); got != strconv.FormatInt(fixedNow.Add(-11*time.Second).Unix(), 10) {
		t.Errorf("unexpected timestamp header %s", got)
	}
}
