package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForCLI renders err for a terminal: the message, the cause when it
// adds something, a hint and the code. Verbose output also lists details.
// Errors that are not FinragErrors print as a single line.
func FormatForCLI(err error, verbose bool) string {
	if err == nil {
		return ""
	}

	var fe *FinragError
	if !errors.As(err, &fe) {
		return fmt.Sprintf("Error: %v\n", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", contextual(err, fe))
	if cause := causeText(fe); cause != "" {
		fmt.Fprintf(&sb, "  Cause: %s\n", cause)
	}
	if fe.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", fe.Suggestion)
	}
	if verbose {
		for _, k := range sortedKeys(fe.Details) {
			fmt.Fprintf(&sb, "  %s: %s\n", k, fe.Details[k])
		}
	}
	fmt.Fprintf(&sb, "  Code: %s\n", fe.Code)
	return sb.String()
}

// contextual returns the FinragError message prefixed with whatever
// fmt.Errorf wrapping sits above it ("failed to load a.yaml: ...").
func contextual(err error, fe *FinragError) string {
	full := err.Error()
	own := fe.Error()
	if prefix, ok := strings.CutSuffix(full, own); ok && prefix != "" {
		return prefix + fe.Message
	}
	return fe.Message
}

func causeText(fe *FinragError) string {
	if fe.Cause == nil {
		return ""
	}
	if c := fe.Cause.Error(); c != fe.Message {
		return c
	}
	return ""
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON object describing err for --json output.
// Errors that are not FinragErrors are reported as internal.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	fe := new(FinragError)
	if !errors.As(err, &fe) {
		fe = Wrap(ErrCodeInternal, err)
	}

	return json.Marshal(jsonError{
		Code:       fe.Code,
		Message:    contextual(err, fe),
		Category:   string(fe.Category),
		Severity:   string(fe.Severity),
		Details:    fe.Details,
		Suggestion: fe.Suggestion,
		Cause:      causeText(fe),
		Retryable:  fe.Retryable,
	})
}

// LogAttrs returns slog attributes for err in a stable order: error_code,
// category, retryable, cause, then detail_* keys sorted. A plain error
// yields a single "error" attribute.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}

	var fe *FinragError
	if !errors.As(err, &fe) {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{
		slog.String("error", contextual(err, fe)),
		slog.String("error_code", fe.Code),
		slog.String("category", string(fe.Category)),
		slog.Bool("retryable", fe.Retryable),
	}
	if cause := causeText(fe); cause != "" {
		attrs = append(attrs, slog.String("cause", cause))
	}
	for _, k := range sortedKeys(fe.Details) {
		attrs = append(attrs, slog.String("detail_"+k, fe.Details[k]))
	}
	return attrs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
