package slackapi

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/slack-go/slack"

	"slackgate/internal/domain"
)

// OutboundMessage is the JSON document a consumer record carries. Field
// names follow the chat.postMessage and chat.postEphemeral arguments.
// Pointer flags distinguish an explicit false from an absent field.
type OutboundMessage struct {
	Channel        string               `json:"channel"`
	User           string               `json:"user,omitempty"`
	Text           string               `json:"text,omitempty"`
	ThreadTS       string               `json:"thread_ts,omitempty"`
	ReplyBroadcast bool                 `json:"reply_broadcast,omitempty"`
	Blocks         slack.Blocks         `json:"blocks"`
	Attachments    []slack.Attachment   `json:"attachments,omitempty"`
	Username       string               `json:"username,omitempty"`
	AsUser         *Flag                `json:"as_user,omitempty"`
	IconEmoji      string               `json:"icon_emoji,omitempty"`
	IconURL        string               `json:"icon_url,omitempty"`
	Markdown       *Flag                `json:"mrkdwn,omitempty"`
	Parse          string               `json:"parse,omitempty"`
	LinkNames      *Flag                `json:"link_names,omitempty"`
	UnfurlLinks    *Flag                `json:"unfurl_links,omitempty"`
	UnfurlMedia    *Flag                `json:"unfurl_media,omitempty"`
	Metadata       *slack.SlackMetadata `json:"metadata,omitempty"`
	FileIDs        []string             `json:"file_ids,omitempty"`

	// Unsupported lists top-level keys that no Slack argument maps to.
	Unsupported []string `json:"-"`
}

// knownFields are the keys OutboundMessage maps onto call options. token is
// accepted and ignored: calls always use the bot token from the secret bundle.
var knownFields = []string{
	"channel", "user", "text", "thread_ts", "reply_broadcast", "blocks", "attachments",
	"username", "as_user", "icon_emoji", "icon_url", "mrkdwn", "parse", "link_names",
	"unfurl_links", "unfurl_media", "metadata", "file_ids", "token",
}

// Flag is a boolean argument Slack accepts as true/false, 1/0 or their
// string forms.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	switch s {
	case "true", "1":
		*f = true
	case "false", "0", "":
		*f = false
	default:
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			*f = true
			return nil
		}
		return fmt.Errorf("invalid flag value %s", data)
	}
	return nil
}

// ParseOutbound decodes a message document and records the keys it cannot
// forward.
func ParseOutbound(body []byte) (OutboundMessage, error) {
	var msg OutboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return OutboundMessage{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return OutboundMessage{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	for k := range raw {
		if !slices.Contains(knownFields, k) {
			msg.Unsupported = append(msg.Unsupported, k)
		}
	}
	slices.Sort(msg.Unsupported)
	return msg, nil
}

// Validate checks the fields Slack rejects a call without. Ephemeral
// messages also need a user.
func (m OutboundMessage) Validate(ephemeral bool) error {
	if m.Channel == "" {
		return fmt.Errorf("%w: message has no channel", domain.ErrMalformedPayload)
	}
	if ephemeral && m.User == "" {
		return fmt.Errorf("%w: ephemeral message has no user", domain.ErrMalformedPayload)
	}
	if m.Text == "" && len(m.Blocks.BlockSet) == 0 && len(m.Attachments) == 0 {
		return fmt.Errorf("%w: message has no text, blocks or attachments", domain.ErrMalformedPayload)
	}
	return nil
}

// MsgOptions converts the message into slack-go call options.
func (m OutboundMessage) MsgOptions() []slack.MsgOption {
	var opts []slack.MsgOption
	if m.Text != "" {
		opts = append(opts, slack.MsgOptionText(m.Text, false))
	}
	if len(m.Blocks.BlockSet) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(m.Blocks.BlockSet...))
	}
	if len(m.Attachments) > 0 {
		opts = append(opts, slack.MsgOptionAttachments(m.Attachments...))
	}
	if m.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(m.ThreadTS))
		if m.ReplyBroadcast {
			opts = append(opts, slack.MsgOptionBroadcast())
		}
	}
	if m.Username != "" {
		opts = append(opts, slack.MsgOptionUsername(m.Username))
	}
	if m.AsUser != nil && bool(*m.AsUser) {
		opts = append(opts, slack.MsgOptionAsUser(true))
	}
	if m.IconEmoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(m.IconEmoji))
	}
	if m.IconURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(m.IconURL))
	}
	if m.Markdown != nil && !bool(*m.Markdown) {
		opts = append(opts, slack.MsgOptionDisableMarkdown())
	}
	if m.Parse != "" {
		params := slack.NewPostMessageParameters()
		params.Parse = m.Parse
		opts = append(opts, slack.MsgOptionPostMessageParameters(params))
	}
	if m.LinkNames != nil {
		opts = append(opts, slack.MsgOptionLinkNames(bool(*m.LinkNames)))
	}
	if m.UnfurlLinks != nil {
		if *m.UnfurlLinks {
			opts = append(opts, slack.MsgOptionEnableLinkUnfurl())
		} else {
			opts = append(opts, slack.MsgOptionDisableLinkUnfurl())
		}
	}
	if m.UnfurlMedia != nil && !bool(*m.UnfurlMedia) {
		opts = append(opts, slack.MsgOptionDisableMediaUnfurl())
	}
	if m.Metadata != nil {
		opts = append(opts, slack.MsgOptionMetadata(*m.Metadata))
	}
	if len(m.FileIDs) > 0 {
		opts = append(opts, slack.MsgOptionFileIDs(m.FileIDs))
	}
	return opts
}
