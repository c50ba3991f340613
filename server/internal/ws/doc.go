// Package ws streams alert lifecycle events to WebSocket clients.
//
// Hub implements lifecycle.Publisher; the engine calls Publish after every
// committed transition and the hub forwards the event to each connected
// client without blocking. Mounted at /ws/events; ?workspace=<id> narrows
// the stream to one workspace.
//
// Message format:
//
//	{
//	  "event": "alert.opened",
//	  "at":    "2026-03-01T12:04:00Z",
//	  "alert": { /* same schema as GET .../alerts/{id} */ }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws
