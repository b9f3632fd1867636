// Package relay bridges one calculation request to one run of the external
// energy calculator.
//
// The calculator is an opaque executable with a stdin/stdout JSON contract:
// it is started with no arguments, reads one JSON document from stdin, writes
// one JSON document to stdout, and exits 0 on success. On failure it exits
// non-zero and may still print a JSON error object.
//
// Relay.Calculate maps each run to an HTTP result:
//
//	exit 0, JSON stdout        → 200, stdout as-is
//	exit 0, other stdout       → 500 {"error": "<label> returned invalid JSON", "output": stdout}
//	exit ≠ 0, JSON stdout      → 500, stdout as-is
//	exit ≠ 0, other stdout     → 500 {"error": "<label> calculation failed", "details": stderr}
//	cannot start               → 500 {"error": "<label> executable '<name>' not found. Did you compile it correctly?"}
//	timeout                    → 500 {"error": "<label> calculation timed out after <d>"}
//	context cancelled          → 500 {"error": "<label> calculation cancelled"}
//
// Settings are swapped atomically by Update (config hot reload); runs in
// flight are unaffected.
package relay
