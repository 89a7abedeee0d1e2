package monitor

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/recoverloop/redrive/pkg/models"
	"github.com/recoverloop/redrive/pkg/redact"
)

const (
	maxMessageLen  = 500
	maxStackFrames = 3
)

// ExtractErrorPattern parses a message body into the error identity used
// for fingerprinting and classification. The parser is tolerant: it accepts
// a nested error object, the flat errorMessage/errorType shape, and treats
// anything else as a ParseError carrying the raw text.
func ExtractErrorPattern(body, sourceQueue string) models.ErrorPattern {
	service := AffectedService(sourceQueue)

	var payload struct {
		Error struct {
			Name    string `json:"name"`
			Message string `json:"message"`
			Stack   string `json:"stack"`
			Code    any    `json:"code"`
		} `json:"error"`
		ErrorMessage string          `json:"errorMessage"`
		ErrorType    string          `json:"errorType"`
		StackTrace   json.RawMessage `json:"stackTrace"`
		ErrorCode    any             `json:"errorCode"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return parseError(body, service)
	}

	if m := strings.TrimSpace(payload.Error.Message); m != "" {
		return buildPattern(payload.Error.Name, m, strings.Split(payload.Error.Stack, "\n"), payload.Error.Code, service)
	}
	if m := strings.TrimSpace(payload.ErrorMessage); m != "" {
		return buildPattern(payload.ErrorType, m, stackLines(payload.StackTrace), payload.ErrorCode, service)
	}
	return parseError(body, service)
}

func buildPattern(typ, message string, stack []string, code any, service string) models.ErrorPattern {
	typ = strings.TrimSpace(typ)
	if typ == "" {
		typ = "Error"
	}
	return models.ErrorPattern{
		Type:            typ,
		Message:         redact.Truncate(message, maxMessageLen),
		StackTop:        topFrames(stack),
		Code:            codeString(code),
		AffectedService: service,
	}
}

func parseError(body, service string) models.ErrorPattern {
	return models.ErrorPattern{
		Type:            "ParseError",
		Message:         redact.Truncate(strings.TrimSpace(body), maxMessageLen),
		AffectedService: service,
	}
}

// topFrames keeps at most three stack frames, plus a leading error line
// when the trace starts with one.
func topFrames(lines []string) []string {
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return nil
	}
	limit := maxStackFrames
	if !strings.HasPrefix(out[0], "at ") {
		limit++
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// stackLines accepts the flat shape's stackTrace as either a newline-joined
// string or an array of frames.
func stackLines(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		return strings.Split(joined, "\n")
	}
	var frames []string
	if err := json.Unmarshal(raw, &frames); err == nil {
		return frames
	}
	return nil
}

// codeString renders an error code field that may arrive as a string or a
// number ("ETIMEDOUT", 429).
func codeString(v any) string {
	switch code := v.(type) {
	case string:
		return strings.TrimSpace(code)
	case float64:
		if code == math.Trunc(code) {
			return strconv.FormatInt(int64(code), 10)
		}
		return strconv.FormatFloat(code, 'f', -1, 64)
	case json.Number:
		return code.String()
	default:
		return ""
	}
}

// AffectedService derives a service name from a DLQ name: the -dlq/_dlq
// suffix is stripped and the remainder converted to PascalCase
// ("payment-processing-dlq" becomes "PaymentProcessing").
func AffectedService(queue string) string {
	name := strings.TrimSuffix(queue, "-dlq")
	name = strings.TrimSuffix(name, "_dlq")
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	})

	var b strings.Builder
	for _, p := range parts {
		r := []rune(p)
		b.WriteString(strings.ToUpper(string(r[0])))
		b.WriteString(string(r[1:]))
	}
	return b.String()
}
