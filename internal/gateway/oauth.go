package gateway

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"slackgate/internal/auth"
	"slackgate/internal/classify"
	"slackgate/internal/metrics"
)

// Slack OAuth v2 endpoints.
var slackEndpoint = oauth2.Endpoint{
	AuthURL:  "https://slack.com/oauth/v2/authorize",
	TokenURL: "https://slack.com/api/oauth.v2.access",
}

// OAuthConfig configures the install and OAuth redirect routes.
type OAuthConfig struct {
	// SuccessURL replaces the workspace URL as the post-install redirect.
	SuccessURL string
	// ErrorURL receives users who denied the install. Empty means 400.
	ErrorURL string
	// RedirectURI is the redirect_uri registered with Slack.
	RedirectURI string
	Scopes      []string
	UserScopes  []string
	// VerifyState rejects /oauth requests without a state issued by /install.
	VerifyState bool
	StateMaxAge time.Duration
}

func (g *Gateway) stateSigner(clientSecret string) auth.StateSigner {
	maxAge := g.oauth.StateMaxAge
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	return auth.StateSigner{Secret: clientSecret, MaxAge: maxAge, Now: g.verifier.Now}
}

// handleInstall redirects to Slack's authorize page with a signed state.
func (g *Gateway) handleInstall(w http.ResponseWriter, r *http.Request, rs *requestState) error {
	secrets, err := g.secrets.Get(r.Context())
	if err != nil {
		return err
	}
	rs.advance(stateSecretsReady)

	cfg := oauth2.Config{
		ClientID:    secrets.ClientID,
		Endpoint:    slackEndpoint,
		RedirectURL: g.oauth.RedirectURI,
	}
	// Slack takes comma-separated scope lists rather than the space-separated
	// form oauth2 builds from Config.Scopes.
	var opts []oauth2.AuthCodeOption
	if len(g.oauth.Scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(g.oauth.Scopes, ",")))
	}
	if len(g.oauth.UserScopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("user_scope", strings.Join(g.oauth.UserScopes, ",")))
	}
	state := g.stateSigner(secrets.ClientSecret).Issue()

	rs.advance(stateDispatched)
	http.Redirect(w, r, cfg.AuthCodeURL(state, opts...), http.StatusFound)
	return nil
}

// handleOAuth completes an install: exchange the code, look up the team,
// persist the installation and redirect.
func (g *Gateway) handleOAuth(w http.ResponseWriter, r *http.Request, rs *requestState) error {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		rs.logger.Warn("oauth denied", "reason", reason)
		if g.oauth.ErrorURL != "" {
			http.Redirect(w, r, g.oauth.ErrorURL, http.StatusFound)
			return nil
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": reason})
		return nil
	}

	payload, err := classify.OAuth(q)
	if err != nil {
		return err
	}

	secrets, err := g.secrets.Get(r.Context())
	if err != nil {
		return err
	}
	rs.advance(stateSecretsReady)

	if g.oauth.VerifyState {
		if err := g.stateSigner(secrets.ClientSecret).Check(q.Get("state")); err != nil {
			return err
		}
	}
	rs.advance(stateAuthenticated)
	rs.advance(stateClassified)

	inst, err := g.exchanger.Exchange(r.Context(), payload.Key, g.oauth.RedirectURI, secrets)
	if err != nil {
		return err
	}
	metrics.Installations.Inc()
	rs.logger.Info("app installed", "team_id", inst.TeamID, "team", inst.TeamName, "app_id", inst.AppID)

	if g.installs != nil {
		if err := g.installs.Save(r.Context(), inst); err != nil {
			// Slack has already issued the token; the user still gets redirected.
			rs.logger.Error("saving installation failed", "team_id", inst.TeamID, "err", err)
		}
	}

	location := g.oauth.SuccessURL
	if location == "" {
		location = inst.WorkspaceURL()
	}
	rs.advance(stateDispatched)
	http.Redirect(w, r, location, http.StatusMovedPermanently)
	return nil
}
