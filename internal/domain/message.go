package domain

import "encoding/json"

// PayloadKind classifies an inbound Slack request.
type PayloadKind string

const (
	KindURLVerification     PayloadKind = "url_verification"
	KindEventCallback       PayloadKind = "event_callback"
	KindInteractiveCallback PayloadKind = "interactive_callback"
	KindSlashCommand        PayloadKind = "slash_command"
	KindOAuth               PayloadKind = "oauth"
)

// SlashTopicPrefix replaces the leading "/" of a slash command in its topic suffix.
const SlashTopicPrefix = "slash_"

// ClassifiedPayload is the result of classifying an inbound request body.
//
// Key depends on Kind: the challenge for url_verification, the inner event
// type for event_callback, the callback id for interactive_callback, the
// command name without its slash for slash_command and the authorization
// code for oauth. Body is the JSON document that gets published.
type ClassifiedPayload struct {
	Kind PayloadKind
	Key  string
	Body json.RawMessage
}

// TopicSuffix derives the topic suffix for the payload. It is a pure function
// of Kind and Key. Payloads that are never published return "".
func (p ClassifiedPayload) TopicSuffix() string {
	switch p.Kind {
	case KindEventCallback, KindInteractiveCallback:
		return p.Key
	case KindSlashCommand:
		return SlashTopicPrefix + p.Key
	default:
		return ""
	}
}

// Publishable reports whether the payload is fanned out to a topic.
func (p ClassifiedPayload) Publishable() bool {
	return p.TopicSuffix() != ""
}

// Record is one fanned-out message as redelivered by the transport.
type Record struct {
	ID      string
	Message []byte
}

// Batch is an ordered group of records handed to one consumer invocation.
type Batch []Record
