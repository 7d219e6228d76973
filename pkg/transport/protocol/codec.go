package protocol

import (
	"fmt"
	"strings"

	"github.com/HMasataka/relay/pkg/domain"
	"github.com/HMasataka/relay/pkg/errors"
	"github.com/goccy/go-json"
	"github.com/rs/xid"
)

// stripChars are removed from every inbound string value
const stripChars = `<>"'&`

var stripper = strings.NewReplacer("<", "", ">", "", `"`, "", "'", "", "&", "")

// Sanitize removes HTML-significant characters from s
func Sanitize(s string) string {
	if !strings.ContainsAny(s, stripChars) {
		return s
	}
	return stripper.Replace(s)
}

// SanitizeValue walks decoded JSON and sanitizes every string it holds
func SanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return Sanitize(t)
	case map[string]any:
		for k, val := range t {
			t[k] = SanitizeValue(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = SanitizeValue(val)
		}
		return t
	default:
		return v
	}
}

// Codec turns frames into typed messages and events into frames
type Codec interface {
	// Decode parses one inbound frame
	Decode(data []byte) (*domain.Message, error)

	// Encode serializes one outbound event
	Encode(event domain.Event) ([]byte, error)
}

// JSONCodec implements Codec for flat JSON objects carrying a "type" field
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Decode implements Codec. Errors are *errors.Error with code
// MALFORMED_MESSAGE or INVALID_MESSAGE, or wrap domain.ErrUnknownMessageType.
func (c *JSONCodec) Decode(data []byte) (*domain.Message, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeProtocol, errors.CodeMalformedMessage, "malformed message")
	}
	if fields == nil {
		return nil, errors.New(errors.ErrorTypeProtocol, errors.CodeMalformedMessage, "malformed message").
			WithDetails("frame is not a JSON object")
	}

	SanitizeValue(fields)

	kind, _ := fields["type"].(string)
	msgType := domain.MessageType(kind)
	payload, ok := domain.NewPayload(msgType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownMessageType, kind)
	}

	// Re-encode the sanitized object so the payload only sees clean strings.
	clean, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, errors.CodeInternal, "failed to re-encode message")
	}
	if err := json.Unmarshal(clean, payload); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, errors.CodeInvalidMessage, "invalid message").
			WithDetails(err.Error())
	}
	if err := ValidateStruct(payload); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, errors.CodeInvalidMessage, "invalid message").
			WithDetails(err.Error())
	}

	return &domain.Message{
		ID:      xid.New().String(),
		Type:    msgType,
		Data:    fields,
		Payload: payload,
	}, nil
}

// Encode implements Codec. Relayed frames are passed through untouched.
func (c *JSONCodec) Encode(event domain.Event) ([]byte, error) {
	switch ev := event.(type) {
	case domain.RawEvent:
		return ev.Data, nil
	case *domain.RawEvent:
		return ev.Data, nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, errors.CodeInternal, "failed to marshal event").
			WithDetails(string(event.EventType()))
	}
	return data, nil
}
