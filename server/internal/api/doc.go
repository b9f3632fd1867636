// Package api implements the HTTP front door of the energytracker server.
//
// New(relay, opts) returns an http.Handler that serves:
//
//	GET  /                      static landing document from disk (500 if missing)
//	POST /api/calculate-energy  arbitrary JSON body, relayed to the calculator
//	GET  /api/health (and HEAD) calculator path and whether it exists
//
// Wrap(handler, origins) adds CORS (rs/cors; "*" allows any origin),
// X-Request-ID propagation, and slog access logging around any handler.
//
// Calculation responses carry the calculator's own JSON or one of the relay
// error envelopes (see package relay). No external HTTP framework is used.
package api
