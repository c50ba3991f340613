// Package api is the REST adapter over the alert engine.
//
// New(engine) returns a gorilla/mux router serving:
//
//	GET    /api/v1/health
//	GET    /api/v1/workspaces/{ws}/alerts?state=&rule=&limit=
//	GET    /api/v1/workspaces/{ws}/alerts/{id}            alert plus diagnostics
//	GET    /api/v1/workspaces/{ws}/alerts/{id}/attempts
//	POST   /api/v1/workspaces/{ws}/alerts/{id}/ack        {"user"}
//	POST   /api/v1/workspaces/{ws}/alerts/{id}/resolve    {"user","notes"}
//	GET    /api/v1/workspaces/{ws}/rules
//	POST   /api/v1/workspaces/{ws}/rules/test             {"condition","samples"}
//	GET    /api/v1/workspaces/{ws}/rules/{id}
//	PUT    /api/v1/workspaces/{ws}/rules/{id}
//	DELETE /api/v1/workspaces/{ws}/rules/{id}
//	GET    /api/v1/workspaces/{ws}/suppressions
//	POST   /api/v1/workspaces/{ws}/suppressions
//	DELETE /api/v1/workspaces/{ws}/suppressions/{id}
//	POST   /api/v1/workspaces/{ws}/evaluate
//
// Every alert route is scoped to {ws}: an alert of another workspace is a
// 404. Validation errors map to 400, conflicts and already-resolved alerts
// to 409. Durations in JSON bodies are nanoseconds.
package api
