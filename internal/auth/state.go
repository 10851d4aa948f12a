package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidState is returned when an OAuth state value fails verification.
var ErrInvalidState = errors.New("invalid oauth state")

// StateSigner issues and checks the OAuth state parameter as "<unix ts>.<hex hmac>".
type StateSigner struct {
	Secret string
	MaxAge time.Duration
	Now    func() time.Time
}

// Issue returns a fresh state value.
func (s StateSigner) Issue() string {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	return ts + "." + s.mac(ts)
}

// Check verifies a state value previously returned by Issue.
func (s StateSigner) Check(state string) error {
	ts, sum, ok := strings.Cut(state, ".")
	if !ok || ts == "" || sum == "" {
		return ErrInvalidState
	}
	if !hmac.Equal([]byte(sum), []byte(s.mac(ts))) {
		return ErrInvalidState
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidState
	}
	if s.MaxAge > 0 && s.now().Sub(time.Unix(sec, 0)) > s.MaxAge {
		return ErrInvalidState
	}
	return nil
}

func (s StateSigner) mac(ts string) string {
	m := hmac.New(sha256.New, []byte(s.Secret))
	m.Write([]byte(ts))
	return hex.EncodeToString(m.Sum(nil))
}

func (s StateSigner) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
