package api

// HealthResponse is the payload for GET /api/health.
type HealthResponse struct {
	Status          string `json:"status"`
	Executable      string `json:"executable"`
	ExecutableFound bool   `json:"executable_found"`
}

// errorResponse is the envelope for front door errors that never reach the
// calculator (404, 405, 413).
type errorResponse struct {
	Error string `json:"error"`
}
