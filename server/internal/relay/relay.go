package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"sync/atomic"
	"time"
)

var (
	// ErrExecutableNotFound is returned when the calculator cannot be started.
	ErrExecutableNotFound = errors.New("relay: executable not found")

	// ErrTimeout is returned when the calculator exceeds Settings.Timeout.
	ErrTimeout = errors.New("relay: calculation timed out")
)

// waitDelay bounds how long Run waits for the child's output pipes to close
// after the process exits or is killed.
const waitDelay = 2 * time.Second

// Observer receives one callback pair per calculation request.
// Implementations must be safe for concurrent use.
type Observer interface {
	Begin()
	End(kind Kind, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) Begin() {}

func (nopObserver) End(Kind, time.Duration) {}

// Relay turns one calculation request into one run of the external
// calculator. Every call spawns its own child process; nothing is pooled
// and no state is shared between concurrent calls, so a Relay is safe for
// concurrent use.
type Relay struct {
	settings atomic.Pointer[Settings]
	obs      Observer
}

// New creates a Relay for the given settings. obs may be nil.
func New(s Settings, obs Observer) *Relay {
	if obs == nil {
		obs = nopObserver{}
	}
	r := &Relay{obs: obs}
	r.settings.Store(&s)
	return r
}

// Settings returns the settings new runs will use.
func (r *Relay) Settings() Settings {
	return *r.settings.Load()
}

// Update swaps the settings for subsequent runs. Runs already in flight keep
// the settings they started with.
func (r *Relay) Update(s Settings) {
	r.settings.Store(&s)
	slog.Info("relay: settings updated",
		"executable", s.Path,
		"found", Found(s.Path),
		"timeout", s.Timeout,
	)
}

// Calculate validates body, runs the calculator on it, and maps the outcome
// to an HTTP status and JSON body. It never returns an error: every failure
// is expressed in the Result.
func (r *Relay) Calculate(ctx context.Context, body []byte) Result {
	r.obs.Begin()
	start := time.Now()

	input, err := Canonicalize(body)
	if err != nil {
		slog.Debug("relay: rejected request body", "request_id", RequestID(ctx), "err", err)
		res := Result{
			Status: http.StatusBadRequest,
			Body:   ErrorBody{Error: "invalid JSON body"},
			Kind:   KindBadRequest,
		}
		r.obs.End(res.Kind, time.Since(start))
		return res
	}

	s := r.Settings()
	out := Run(ctx, s, input)
	res := Respond(s, out)
	logOutcome(ctx, s, out, res)
	r.obs.End(res.Kind, time.Since(start))
	return res
}

// Run starts the executable at s.Path with no arguments, writes input to its
// stdin, and waits for it to exit, capturing stdout and stderr in full.
// A non-zero exit is reported through Outcome.ExitCode, not Outcome.Err.
func Run(ctx context.Context, s Settings, input []byte) *Outcome {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.Path)
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	out := &Outcome{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if err == nil {
		return out
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && s.Timeout > 0:
		out.ExitCode = -1
		out.Err = fmt.Errorf("%w after %s", ErrTimeout, s.Timeout)
	case ctx.Err() != nil:
		out.ExitCode = -1
		out.Err = ctx.Err()
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	case errors.Is(err, exec.ErrWaitDelay):
		// Exited cleanly but something kept its output pipes open.
		out.ExitCode = cmd.ProcessState.ExitCode()
	default:
		out.ExitCode = -1
		out.Err = fmt.Errorf("%w: %s: %w", ErrExecutableNotFound, s.Path, err)
	}
	return out
}

func logOutcome(ctx context.Context, s Settings, out *Outcome, res Result) {
	attrs := []any{
		"request_id", RequestID(ctx),
		"executable", s.Path,
		"exit_code", out.ExitCode,
		"duration", out.Duration,
		"status", res.Status,
	}

	switch res.Kind {
	case KindOK:
		slog.Info("relay: calculation succeeded", attrs...)
	case KindProcessFailed:
		slog.Error("relay: calculation failed", append(attrs, "stderr", string(out.Stderr))...)
	case KindInvalidOutput:
		slog.Error("relay: calculator returned invalid JSON", append(attrs, "output", string(out.Stdout))...)
	default:
		slog.Error("relay: calculator did not complete", append(attrs, "kind", res.Kind, "err", out.Err)...)
	}
}
