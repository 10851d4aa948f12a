package gateway

import (
	"log/slog"
	"net/http"
)

// requestState tracks how far a request got through
// Idle -> SecretsReady -> Authenticated -> Classified -> Dispatched.
type requestState struct {
	id     string
	state  state
	logger *slog.Logger
}

type state int

const (
	stateIdle state = iota
	stateSecretsReady
	stateAuthenticated
	stateClassified
	stateDispatched
)

var stateNames = [...]string{"idle", "secrets_ready", "authenticated", "classified", "dispatched"}

func (s state) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (rs *requestState) advance(to state) {
	rs.logger.Debug("state", "from", rs.state, "to", to)
	rs.state = to
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) status() int {
	if s.code == 0 {
		return http.StatusOK
	}
	return s.code
}
