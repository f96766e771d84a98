package decision

import (
	"fmt"
	"strings"
)

// RecoverableError is a malformed- or invalid-decision failure the
// coordinator can repair with a developer-note retry, without touching
// the retry engine's budget.
type RecoverableError struct {
	Summary  string
	Guidance string
}

func (e *RecoverableError) Error() string {
	return fmt.Sprintf("%s: %s", e.Summary, e.Guidance)
}

func newRecoverable(summary, guidance string) *RecoverableError {
	return &RecoverableError{Summary: summary, Guidance: guidance}
}

// classification pairs a substring match against raw parser error text
// with the (summary, guidance) tuple surfaced to the coordinator's
// recovery loop.
type classification struct {
	pattern  string
	summary  string
	guidance string
}

var recoverableTable = []classification{
	{"unexpected end of JSON input", "malformed json", "the response must be a single complete JSON object"},
	{"invalid character", "malformed json", "the response must be valid JSON with no trailing text"},
	{"missing cli prompt", "missing field", "a continue decision must include cli.prompt"},
	{"length cap", "length cap", "check the <=600 / <=400 character bounds for prompts"},
	{"unexpected finish_status", "unexpected finish_status", "finish_status must be one of continue, finish_success, finish_failed"},
	{"too many agents", "too many agents", "at most 5 agents may be requested per decision"},
}

// ClassifyParseError maps a raw error string to the recoverable
// (summary, guidance) pair the coordinator appends as a developer message.
// Unrecognized errors still classify as recoverable with a generic
// guidance string; parse/validation failures are never fatal on their
// own; only exceeding MaxDecisionRecoveryAttempts is.
func ClassifyParseError(raw string) *RecoverableError {
	for _, c := range recoverableTable {
		if containsFold(raw, c.pattern) {
			return newRecoverable(c.summary, c.guidance)
		}
	}
	return newRecoverable("parse error", "the response must be a single JSON object matching the decision schema")
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(toLower(haystack), toLower(needle))
}
