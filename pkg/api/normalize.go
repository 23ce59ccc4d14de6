package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// Message aliases in priority order. "message" may also be an object carrying
// "text" or "content".
var messageAliases = []string{"message", "text", "content", "input", "query"}

// Session key aliases in priority order.
var sessionAliases = []string{"conversation_id", "conversationId", "session_id", "sessionId"}

// MaxSessionKeyLength bounds session keys accepted from HTTP callers.
const MaxSessionKeyLength = 128

var (
	errInvalidJSON       = errors.New("invalid JSON body")
	errInvalidSessionKey = errors.New("invalid session key")
)

// ValidationError lists schema violations of an inbound body.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", e.Details)
}

var requestSchema = mustRequestSchema()

func mustRequestSchema() *gojsonschema.Schema {
	nullableString := map[string]interface{}{"type": []string{"string", "null"}}

	properties := map[string]interface{}{
		"message": map[string]interface{}{
			"type": []string{"string", "object", "null"},
			"properties": map[string]interface{}{
				"text":    nullableString,
				"content": nullableString,
			},
		},
	}
	for _, alias := range messageAliases[1:] {
		properties[alias] = nullableString
	}
	for _, alias := range sessionAliases {
		properties[alias] = nullableString
	}

	schemaMap := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		panic(fmt.Sprintf("api: invalid request schema: %v", err))
	}
	return schema
}

// turnRequest is an inbound turn resolved to one message and one session key.
type turnRequest struct {
	Message    string
	SessionKey string
	Generated  bool // session key was not supplied by the caller
}

// parseTurnRequest decodes and validates rawBody and resolves the field aliases.
// An empty body is treated as an empty object.
func parseTurnRequest(rawBody []byte) (turnRequest, error) {
	body := map[string]interface{}{}

	if trimmed := bytes.TrimSpace(rawBody); len(trimmed) > 0 {
		var decoded interface{}
		if err := json.Unmarshal(trimmed, &decoded); err != nil {
			return turnRequest{}, fmt.Errorf("%w: %v", errInvalidJSON, err)
		}
		if err := validateBody(decoded); err != nil {
			return turnRequest{}, err
		}
		body = decoded.(map[string]interface{})
	}

	req := turnRequest{
		Message:    resolveMessage(body),
		SessionKey: firstNonEmpty(body, sessionAliases),
	}
	if req.SessionKey == "" {
		req.SessionKey = uuid.New().String()
		req.Generated = true
		return req, nil
	}
	if err := checkSessionKey(req.SessionKey); err != nil {
		return turnRequest{}, err
	}
	return req, nil
}

// checkSessionKey applies the transport limits on caller-supplied keys. The
// session store itself accepts any non-empty key.
func checkSessionKey(key string) error {
	if len(key) > MaxSessionKeyLength {
		return fmt.Errorf("%w: longer than %d bytes", errInvalidSessionKey, MaxSessionKeyLength)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", errInvalidSessionKey)
		}
	}
	return nil
}

func validateBody(body interface{}) error {
	result, err := requestSchema.Validate(gojsonschema.NewGoLoader(body))
	if err != nil {
		return err
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return &ValidationError{Details: details}
	}
	return nil
}

// resolveMessage returns the first message alias holding a string, kept
// verbatim even when empty. Absent and null aliases fall through.
func resolveMessage(body map[string]interface{}) string {
	if nested, ok := body["message"].(map[string]interface{}); ok {
		if s, ok := firstString(nested, []string{"text", "content"}); ok {
			return s
		}
	}
	s, _ := firstString(body, messageAliases)
	return s
}

func firstString(m map[string]interface{}, keys []string) (string, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			return s, true
		}
	}
	return "", false
}

// firstNonEmpty returns the first alias holding a non-empty string.
func firstNonEmpty(m map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
