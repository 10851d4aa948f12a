// Package slackapi wraps the parts of the Slack Web API the gateway and
// consumer call: chat.postMessage, chat.postEphemeral, oauth.v2.access and
// team.info.
package slackapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/slack-go/slack"
)

// Messenger is satisfied by *slack.Client.
type Messenger interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
}

// ClientFactory builds a Messenger for a bot token.
type ClientFactory func(token string) Messenger

// HTTPClient returns a pooled HTTP client shared by every Slack client.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Options configures clients built by NewClientFactory.
type Options struct {
	HTTPClient *http.Client
	// APIURL overrides https://slack.com/api/. It must end with a slash.
	APIURL string
}

func (o Options) slackOptions() []slack.Option {
	var opts []slack.Option
	if o.HTTPClient != nil {
		opts = append(opts, slack.OptionHTTPClient(o.HTTPClient))
	}
	if o.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(o.APIURL))
	}
	return opts
}

// New returns a Slack client for token.
func New(token string, o Options) *slack.Client {
	return slack.New(token, o.slackOptions()...)
}

// NewClientFactory returns a ClientFactory backed by *slack.Client.
func NewClientFactory(o Options) ClientFactory {
	return func(token string) Messenger {
		return New(token, o)
	}
}
