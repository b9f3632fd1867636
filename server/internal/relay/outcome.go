package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies how a calculation request ended.
type Kind string

const (
	KindOK            Kind = "ok"
	KindInvalidOutput Kind = "invalid_output"
	KindProcessFailed Kind = "process_failed"
	KindNotFound      Kind = "not_found"
	KindTimeout       Kind = "timeout"
	KindCancelled     Kind = "cancelled"
	KindBadRequest    Kind = "bad_request"
)

// Kinds lists every Kind, in a stable order.
var Kinds = []Kind{
	KindOK, KindInvalidOutput, KindProcessFailed, KindNotFound,
	KindTimeout, KindCancelled, KindBadRequest,
}

// Outcome is what one child process run produced.
type Outcome struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration

	// Err is set when the process could not be started, timed out, or was
	// cancelled. A non-zero exit alone leaves Err nil.
	Err error
}

// Result is the HTTP-level mapping of an Outcome.
type Result struct {
	Status int

	// Body is either the calculator's own JSON (json.RawMessage) or one of
	// the error envelopes below.
	Body any

	Kind Kind
}

// ErrorBody is the envelope for failures with no further detail.
type ErrorBody struct {
	Error string `json:"error"`
}

// InvalidOutputBody is returned when the calculator exits 0 with non-JSON output.
type InvalidOutputBody struct {
	Error  string `json:"error"`
	Output string `json:"output"`
}

// FailureBody is returned when the calculator exits non-zero without JSON output.
type FailureBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// Respond maps a process outcome to the status and body sent to the caller.
func Respond(s Settings, o *Outcome) Result {
	switch {
	case errors.Is(o.Err, ErrExecutableNotFound):
		return Result{
			Status: http.StatusInternalServerError,
			Body: ErrorBody{Error: fmt.Sprintf(
				"%s executable '%s' not found. Did you compile it correctly?", s.Label, s.Name)},
			Kind: KindNotFound,
		}

	case errors.Is(o.Err, ErrTimeout):
		return Result{
			Status: http.StatusInternalServerError,
			Body:   ErrorBody{Error: fmt.Sprintf("%s calculation timed out after %s", s.Label, s.Timeout)},
			Kind:   KindTimeout,
		}

	case o.Err != nil:
		return Result{
			Status: http.StatusInternalServerError,
			Body:   ErrorBody{Error: fmt.Sprintf("%s calculation cancelled", s.Label)},
			Kind:   KindCancelled,
		}

	case o.ExitCode == 0:
		if doc, ok := jsonDocument(o.Stdout); ok {
			return Result{Status: http.StatusOK, Body: doc, Kind: KindOK}
		}
		return Result{
			Status: http.StatusInternalServerError,
			Body: InvalidOutputBody{
				Error:  fmt.Sprintf("%s returned invalid JSON", s.Label),
				Output: string(o.Stdout),
			},
			Kind: KindInvalidOutput,
		}

	default:
		// The calculator may still describe its own failure as JSON.
		if doc, ok := jsonDocument(o.Stdout); ok {
			return Result{Status: http.StatusInternalServerError, Body: doc, Kind: KindProcessFailed}
		}
		return Result{
			Status: http.StatusInternalServerError,
			Body: FailureBody{
				Error:   fmt.Sprintf("%s calculation failed", s.Label),
				Details: string(o.Stderr),
			},
			Kind: KindProcessFailed,
		}
	}
}

// jsonDocument returns out as a single JSON value, or false if it is not one.
func jsonDocument(out []byte) (json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, false
	}
	return json.RawMessage(trimmed), true
}

// Canonicalize validates body as a single JSON value and returns its compact
// encoding, which is what the calculator reads on stdin.
func Canonicalize(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("body is not valid JSON")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
