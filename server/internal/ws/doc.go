// Package ws implements the WebSocket calculation endpoint.
//
// Hub.ServeHTTP upgrades a connection; each frame the client sends is one
// calculation request body, relayed exactly like POST /api/calculate-energy
// (one calculator process per frame). Replies arrive in order:
//
//	{
//	  "request_id": "…",
//	  "status":     200,
//	  "body":       { /* calculator JSON or relay error envelope */ }
//	}
//
// Closing a connection kills its calculation in flight. Hub.Run(ctx) does the
// same for every connection when ctx is cancelled, then closes them.
package ws
