package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"loom/internal/services"
)

// DecodeJSON decodes a model response into target, tolerating code fences
// and surrounding prose but nothing else. A payload that still fails to
// parse is a schema violation, not a transport problem, and is marked as
// such so the caller can decide between a strict retry and dead-lettering.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return services.Wrap(services.ErrSchemaInvalid, "", "decode", "empty payload", nil)
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return services.Wrap(services.ErrSchemaInvalid, "", "decode",
			fmt.Sprintf("payload snippet: %s", summarizePayloadSnippet(trimmed)), directErr)
	}

	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return services.Wrap(services.ErrSchemaInvalid, "", "decode",
			fmt.Sprintf("sanitized payload snippet: %s", summarizePayloadSnippet(sanitized)), err)
	}
	return nil
}

// Validatable is implemented by decoded results that enforce their own
// schema beyond JSON well-formedness.
type Validatable interface {
	Validate() error
}

// DecodeValidatedJSON decodes and then validates, folding validation
// failures into the same schema-invalid class as parse failures.
func DecodeValidatedJSON(content string, target Validatable) error {
	if err := DecodeJSON(content, target); err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		if errors.Is(err, services.ErrSchemaInvalid) {
			return err
		}
		return services.Wrap(services.ErrSchemaInvalid, "", "validate", "", err)
	}
	return nil
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFenceBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := trimmed[3:]
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
		body = strings.TrimLeft(body, " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func summarizePayloadSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	replacer := strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")
	clean := replacer.Replace(trimmed)
	clean = strings.Join(strings.Fields(clean), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
