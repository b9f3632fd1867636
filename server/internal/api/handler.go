package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/energytracker/energytracker/server/internal/relay"
)

// CalculatePath is the calculation endpoint.
const CalculatePath = "/api/calculate-energy"

// Options configures the front door handler.
type Options struct {
	// IndexPath is the landing document served on GET /.
	IndexPath string

	// MaxBodyBytes caps calculation request bodies. Zero means no cap.
	MaxBodyBytes int64
}

// Handler is the HTTP front door: the landing page, the calculation endpoint,
// and a health probe.
type Handler struct {
	relay *relay.Relay
	opts  Options
	mux   *http.ServeMux
}

// New creates a Handler wired to the given relay and registers all routes.
func New(rl *relay.Relay, opts Options) http.Handler {
	h := &Handler{relay: rl, opts: opts, mux: http.NewServeMux()}

	h.mux.HandleFunc("/", h.index)
	h.mux.HandleFunc(CalculatePath, h.calculate)
	h.mux.HandleFunc("/api/health", h.health)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// index serves GET /, the static landing document from disk.
func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	info, err := os.Stat(h.opts.IndexPath)
	if err == nil && info.IsDir() {
		err = errors.New("is a directory")
	}
	if err != nil {
		slog.Error("api: landing document unavailable", "path", h.opts.IndexPath, "err", err)
		jsonErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	http.ServeFile(w, r, h.opts.IndexPath)
}

// calculate serves POST /api/calculate-energy, one calculator run per request.
func (h *Handler) calculate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body := r.Body
	if h.opts.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonErr(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		jsonErr(w, http.StatusBadRequest, "could not read request body")
		return
	}

	res := h.relay.Calculate(r.Context(), data)
	jsonResp(w, res.Status, res.Body)
}

// health serves GET and HEAD /api/health and reports whether the calculator
// is in place.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s := h.relay.Settings()
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:          "ok",
		Executable:      s.Path,
		ExecutableFound: relay.Found(s.Path),
	})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
