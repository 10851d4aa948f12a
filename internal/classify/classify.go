// Package classify turns a raw Slack request body into a ClassifiedPayload.
// Classification is a pure function of the body and its declared shape.
package classify

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"slackgate/internal/domain"
)

// Shape is the encoding of a request body.
type Shape int

const (
	ShapeJSON Shape = iota
	ShapeForm
)

func (s Shape) String() string {
	if s == ShapeForm {
		return "form"
	}
	return "json"
}

// ShapeFromContentType maps a Content-Type header to a Shape, returning
// fallback when the header is absent or unrecognized.
func ShapeFromContentType(contentType string, fallback Shape) Shape {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fallback
	}
	switch mt {
	case "application/x-www-form-urlencoded":
		return ShapeForm
	case "application/json":
		return ShapeJSON
	}
	return fallback
}

// Classify applies the classification rules in order: interactive payload,
// slash command, url_verification, event_callback. Anything else is
// ErrMalformedPayload.
func Classify(body []byte, shape Shape) (domain.ClassifiedPayload, error) {
	if shape == ShapeForm {
		return classifyForm(body)
	}
	return classifyJSON(body)
}

// OAuth classifies the query of an OAuth redirect.
func OAuth(query url.Values) (domain.ClassifiedPayload, error) {
	code := query.Get("code")
	if code == "" {
		return domain.ClassifiedPayload{}, fmt.Errorf("%w: missing oauth code", domain.ErrMalformedPayload)
	}
	return domain.ClassifiedPayload{Kind: domain.KindOAuth, Key: code}, nil
}

func classifyForm(body []byte) (domain.ClassifiedPayload, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return domain.ClassifiedPayload{}, fmt.Errorf("%w: form: %v", domain.ErrMalformedPayload, err)
	}

	if form.Has("payload") {
		return classifyCallback([]byte(form.Get("payload")))
	}

	if form.Has("command") {
		name := strings.TrimPrefix(strings.TrimSpace(form.Get("command")), "/")
		if name == "" {
			return domain.ClassifiedPayload{}, fmt.Errorf("%w: empty command", domain.ErrMalformedPayload)
		}
		fields := make(map[string]string, len(form))
		for k, vs := range form {
			if len(vs) > 0 {
				fields[k] = vs[0]
			}
		}
		// encoding/json writes map keys sorted, so the body is deterministic.
		doc, err := json.Marshal(fields)
		if err != nil {
			return domain.ClassifiedPayload{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
		return domain.ClassifiedPayload{Kind: domain.KindSlashCommand, Key: name, Body: doc}, nil
	}

	return domain.ClassifiedPayload{}, fmt.Errorf("%w: form has neither payload nor command", domain.ErrMalformedPayload)
}

func classifyCallback(raw []byte) (domain.ClassifiedPayload, error) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return domain.ClassifiedPayload{}, fmt.Errorf("%w: payload is not a JSON object", domain.ErrMalformedPayload)
	}
	doc := gjson.ParseBytes(raw)

	body := raw
	if doc.Get("type").String() == string(slack.InteractionTypeBlockActions) {
		var ids []string
		doc.Get("actions.#.action_id").ForEach(func(_, v gjson.Result) bool {
			ids = append(ids, v.String())
			return true
		})
		if len(ids) > 0 {
			var err error
			if body, err = sjson.SetBytes(raw, "action_ids", ids); err != nil {
				return domain.ClassifiedPayload{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
			}
		}
	}

	key := callbackKey(doc)
	if key == "" {
		return domain.ClassifiedPayload{}, fmt.Errorf("%w: payload has no callback_id", domain.ErrMalformedPayload)
	}
	// slash_ topics belong to slash commands.
	if strings.HasPrefix(key, domain.SlashTopicPrefix) {
		return domain.ClassifiedPayload{}, fmt.Errorf("%w: callback id %q collides with slash command topics", domain.ErrMalformedPayload, key)
	}
	return domain.ClassifiedPayload{Kind: domain.KindInteractiveCallback, Key: key, Body: body}, nil
}

// callbackKey prefers the top-level callback_id, then the view's, then the
// action id for block actions and suggestions.
func callbackKey(doc gjson.Result) string {
	for _, path := range []string{"callback_id", "view.callback_id", "action_id", "actions.0.action_id"} {
		if v := doc.Get(path).String(); v != "" {
			return v
		}
	}
	return ""
}

func classifyJSON(body []byte) (domain.ClassifiedPayload, error) {
	if !gjson.ValidBytes(body) {
		return domain.ClassifiedPayload{}, fmt.Errorf("%w: invalid JSON", domain.ErrMalformedPayload)
	}
	doc := gjson.ParseBytes(body)

	switch doc.Get("type").String() {
	case slackevents.URLVerification:
		challenge := doc.Get("challenge").String()
		if challenge == "" {
			return domain.ClassifiedPayload{}, fmt.Errorf("%w: empty challenge", domain.ErrMalformedPayload)
		}
		return domain.ClassifiedPayload{Kind: domain.KindURLVerification, Key: challenge, Body: body}, nil

	case slackevents.CallbackEvent:
		eventType := doc.Get("event.type").String()
		if eventType == "" {
			return domain.ClassifiedPayload{}, fmt.Errorf("%w: event has no type", domain.ErrMalformedPayload)
		}
		return domain.ClassifiedPayload{Kind: domain.KindEventCallback, Key: eventType, Body: body}, nil
	}

	return domain.ClassifiedPayload{}, fmt.Errorf("%w: unrecognized type %q", domain.ErrMalformedPayload, doc.Get("type").String())
}
