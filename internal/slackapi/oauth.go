package slackapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/slack-go/slack"

	"slackgate/internal/domain"
)

// ErrCodeRejected means Slack refused the authorization code itself
// (invalid, expired or already used).
var ErrCodeRejected = errors.New("oauth code rejected")

// appConfigErrors are oauth.v2.access errors caused by the app's own
// credentials or redirect URI rather than the code.
var appConfigErrors = []string{
	"invalid_client_id",
	"bad_client_secret",
	"bad_redirect_uri",
	"invalid_client",
	"oauth_authorization_url_mismatch",
}

// Installation is the result of a completed OAuth exchange.
type Installation struct {
	TeamID       string
	TeamName     string
	TeamDomain   string
	EnterpriseID string
	AppID        string
	BotUserID    string
	AuthedUserID string
	Scope        string
	BotToken     string
	InstalledAt  time.Time
}

// WorkspaceURL returns https://<domain>.slack.com/.
func (i Installation) WorkspaceURL() string {
	return "https://" + i.TeamDomain + ".slack.com/"
}

// Exchanger trades an OAuth authorization code for an installation.
type Exchanger interface {
	Exchange(ctx context.Context, code, redirectURI string, secrets domain.SecretBundle) (Installation, error)
}

// OAuthExchanger calls oauth.v2.access and then team.info with the new token.
type OAuthExchanger struct {
	HTTPClient *http.Client
	Options    Options
	Now        func() time.Time
}

func (e *OAuthExchanger) Exchange(ctx context.Context, code, redirectURI string, secrets domain.SecretBundle) (Installation, error) {
	if secrets.ClientID == "" || secrets.ClientSecret == "" {
		return Installation{}, fmt.Errorf("%w: oauth client credentials missing", domain.ErrSecretUnavailable)
	}

	httpClient := e.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := slack.GetOAuthV2ResponseContext(ctx, httpClient, secrets.ClientID, secrets.ClientSecret, code, redirectURI)
	if err != nil {
		var serr slack.SlackErrorResponse
		if errors.As(err, &serr) && !slices.Contains(appConfigErrors, serr.Err) {
			return Installation{}, fmt.Errorf("%w: oauth.v2.access: %w", ErrCodeRejected, err)
		}
		return Installation{}, fmt.Errorf("oauth.v2.access: %w", err)
	}

	opts := e.Options
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpClient
	}
	team, err := New(resp.AccessToken, opts).GetTeamInfoContext(ctx)
	if err != nil {
		return Installation{}, fmt.Errorf("team.info: %w", err)
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return Installation{
		TeamID:       resp.Team.ID,
		TeamName:     resp.Team.Name,
		TeamDomain:   team.Domain,
		EnterpriseID: resp.Enterprise.ID,
		AppID:        resp.AppID,
		BotUserID:    resp.BotUserID,
		AuthedUserID: resp.AuthedUser.ID,
		Scope:        resp.Scope,
		BotToken:     resp.AccessToken,
		InstalledAt:  now().UTC(),
	}, nil
}
