package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var ErrMalformedPayload = errors.New("malformed payload")

type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode: %s", e.Reason)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformedPayload
}

func (e *DecodeError) Unwrap() error { return e.Err }

// inboundSchema constrains the server envelope before typed decoding: the
// discriminator is mandatory and the per-type required fields must be
// present. Unknown discriminators pass validation and decode to Unrecognized.
const inboundSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"message_id": {"type": "string"},
		"timestamp": {"type": "number"}
	},
	"allOf": [
		{
			"if": {"properties": {"type": {"const": "chat_response"}}},
			"then": {
				"anyOf": [
					{"required": ["message"], "properties": {"message": {"type": "string"}}},
					{"required": ["response"], "properties": {"response": {"type": "string"}}}
				]
			}
		},
		{
			"if": {"properties": {"type": {"const": "popup_notification"}}},
			"then": {
				"required": ["popup"],
				"properties": {
					"popup": {
						"type": "object",
						"required": ["title", "message"],
						"properties": {
							"id": {"type": "string"},
							"title": {"type": "string"},
							"message": {"type": "string"}
						}
					}
				}
			}
		},
		{
			"if": {"properties": {"type": {"const": "notification"}}},
			"then": {
				"required": ["title", "message"],
				"properties": {"title": {"type": "string"}, "message": {"type": "string"}}
			}
		},
		{
			"if": {"properties": {"type": {"const": "approval_notification"}}},
			"then": {"required": ["approved"], "properties": {"approved": {"type": "boolean"}}}
		},
		{
			"if": {"properties": {"type": {"const": "request_update"}}},
			"then": {
				"anyOf": [
					{
						"required": ["request"],
						"properties": {
							"request": {
								"type": "object",
								"required": ["request_identifier", "status"],
								"properties": {
									"request_identifier": {"type": "string", "minLength": 1},
									"status": {"type": "string", "minLength": 1}
								}
							}
						}
					},
					{
						"required": ["request_identifier", "status"],
						"properties": {
							"request_identifier": {"type": "string", "minLength": 1},
							"status": {"type": "string", "minLength": 1}
						}
					}
				]
			}
		}
	]
}`

type inboundEnvelope struct {
	Type      string  `json:"type"`
	MessageID string  `json:"message_id"`
	Timestamp float64 `json:"timestamp"`

	// chat_response: the text arrives under "message"; "response" is accepted
	// as a legacy alias.
	Response      string   `json:"response"`
	Buttons       []Button `json:"buttons"`
	ShowTextInput *bool    `json:"show_text_input"`
	Greeting      bool     `json:"greeting"`

	// popup_notification
	Popup struct {
		ID         string  `json:"id"`
		Title      string  `json:"title"`
		Message    string  `json:"message"`
		Type       string  `json:"type"`
		DurationMS float64 `json:"duration"`
	} `json:"popup"`

	// notification; "message" is shared with chat_response. Detail values are
	// mixed-type on the wire (booleans, numbers, strings).
	Title            string         `json:"title"`
	Message          string         `json:"message"`
	NotificationType string         `json:"notification_type"`
	Data             map[string]any `json:"data"`

	// approval_notification
	Approved    *bool  `json:"approved"`
	Environment string `json:"environment"`

	// request_update: the server nests the fields under "request"; the
	// top-level spelling is accepted as a fallback.
	Request struct {
		RequestIdentifier string         `json:"request_identifier"`
		Status            string         `json:"status"`
		Resources         map[string]any `json:"resources"`
	} `json:"request"`
	RequestIdentifier string         `json:"request_identifier"`
	Status            string         `json:"status"`
	Resources         map[string]any `json:"resources"`
}

// Codec turns raw push payloads into typed events. It never panics on bad
// input: anything that fails validation comes back as a DecodeError for the
// router to log and discard.
type Codec struct {
	schema *jsonschema.Schema
	seq    atomic.Uint64
	now    func() time.Time
}

func NewCodec() (*Codec, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(inboundSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inbound.json", doc); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("inbound.json")
	if err != nil {
		return nil, err
	}
	return &Codec{schema: schema, now: time.Now}, nil
}

func (c *Codec) Decode(raw []byte) (Event, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Reason: "invalid JSON", Err: err}
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, &DecodeError{Reason: "schema violation", Err: err}
	}
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Reason: "envelope mismatch", Err: err}
	}

	meta := c.metaFor(env)
	switch env.Type {
	case "connection_ready":
		return ConnectionReady{Meta: meta}, nil
	case "chat_response":
		showInput := true
		if env.ShowTextInput != nil {
			showInput = *env.ShowTextInput
		}
		text := env.Message
		if text == "" {
			text = env.Response
		}
		return ChatResponse{
			Meta:          meta,
			Message:       text,
			Buttons:       env.Buttons,
			ShowTextInput: showInput,
			IsGreeting:    env.Greeting,
		}, nil
	case "popup_notification":
		severity := env.Popup.Type
		if severity == "" {
			severity = "info"
		}
		duration := time.Duration(env.Popup.DurationMS) * time.Millisecond
		if duration <= 0 {
			duration = 18 * time.Second
		}
		return PopupNotification{
			Meta:     meta,
			PopupID:  env.Popup.ID,
			Title:    env.Popup.Title,
			Message:  env.Popup.Message,
			Severity: severity,
			Duration: duration,
		}, nil
	case "notification":
		severity := env.NotificationType
		if severity == "" {
			severity = "info"
		}
		return BellNotification{
			Meta:           meta,
			NotificationID: meta.ID,
			Title:          env.Title,
			Message:        env.Message,
			Severity:       severity,
			Detail:         StringValues(env.Data),
		}, nil
	case "approval_notification":
		approved := env.Approved != nil && *env.Approved
		return ApprovalNotification{
			Meta:        meta,
			Approved:    approved,
			Message:     env.Message,
			Environment: env.Environment,
		}, nil
	case "request_update":
		id, status, resources := env.Request.RequestIdentifier, env.Request.Status, env.Request.Resources
		if id == "" {
			id, status, resources = env.RequestIdentifier, env.Status, env.Resources
		}
		return RequestUpdate{
			Meta:      meta,
			RequestID: id,
			Status:    status,
			Resources: StringValues(resources),
		}, nil
	case "pong":
		return Pong{Meta: meta}, nil
	default:
		return Unrecognized{Meta: meta, Type: env.Type}, nil
	}
}

// StringValues flattens a mixed-type JSON object into the string map the
// durable model stores. Booleans and numbers keep their JSON spelling;
// nested values are re-marshalled; nulls are dropped.
func StringValues(values map[string]any) map[string]string {
	if values == nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			out[key] = v
		case bool:
			out[key] = strconv.FormatBool(v)
		case float64:
			out[key] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			if data, err := json.Marshal(v); err == nil {
				out[key] = string(data)
			}
		}
	}
	return out
}

func (c *Codec) metaFor(env inboundEnvelope) Meta {
	ts := c.now().UTC()
	if env.Timestamp > 0 {
		seconds, fraction := math.Modf(env.Timestamp)
		ts = time.Unix(int64(seconds), int64(fraction*float64(time.Second))).UTC()
	}
	id := strings.TrimSpace(env.MessageID)
	if id == "" && env.Type == "popup_notification" {
		id = strings.TrimSpace(env.Popup.ID)
	}
	if id == "" {
		// Server omitted an explicit id. kind+timestamp alone can collide for
		// fast-arriving events of the same kind, so a per-connection sequence
		// breaks the tie.
		id = fmt.Sprintf("%s:%d:%d", env.Type, ts.UnixMilli(), c.seq.Add(1))
	}
	return Meta{ID: id, Timestamp: ts}
}
