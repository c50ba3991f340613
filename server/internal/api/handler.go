package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/obsidianstack/alertengine/pkg/types"
	"github.com/obsidianstack/alertengine/server/internal/condition"
)

// Engine is the part of alerts.Engine the REST adapter drives.
type Engine interface {
	Alerts(ctx context.Context, workspaceID string, f types.AlertFilter) ([]types.Alert, error)
	Alert(ctx context.Context, workspaceID, alertID string) (*types.Alert, error)
	Attempts(ctx context.Context, alertID string) ([]types.NotificationAttempt, error)
	Acknowledge(ctx context.Context, alertID, userID string) (*types.Alert, error)
	Resolve(ctx context.Context, alertID, userID, notes string) (*types.Alert, error)
	PendingEscalation(alertID string) (level int, due time.Time, ok bool)

	Rules(ctx context.Context, workspaceID string) ([]types.AlertRule, error)
	Rule(ctx context.Context, workspaceID, ruleID string) (*types.AlertRule, error)
	PutRule(ctx context.Context, r types.AlertRule) error
	DeleteRule(ctx context.Context, workspaceID, ruleID string) error
	TestRule(c types.Condition, w types.Window) (condition.Trace, error)

	Windows(ctx context.Context, workspaceID string) ([]types.SuppressionWindow, error)
	PutWindow(ctx context.Context, w types.SuppressionWindow) (types.SuppressionWindow, error)
	DeleteWindow(ctx context.Context, workspaceID, windowID string) error

	EvaluateTick(ctx context.Context, workspaceID string) error

	// Now is the engine's clock; diagnostics age alerts against it.
	Now() time.Time
}

// Handler serves /api/v1/*.
type Handler struct {
	engine Engine
}

// New creates a Handler and registers its routes on a fresh router.
func New(e Engine) *mux.Router {
	r := mux.NewRouter()
	NewHandler(e).RegisterRoutes(r)
	return r
}

// NewHandler returns a Handler over e.
func NewHandler(e Engine) *Handler {
	return &Handler{engine: e}
}

// RegisterRoutes mounts every endpoint on router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	v1.HandleFunc("/health", h.health).Methods(http.MethodGet)

	ws := v1.PathPrefix("/workspaces/{ws}").Subrouter()
	ws.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	ws.HandleFunc("/alerts", h.listAlerts).Methods(http.MethodGet)
	ws.HandleFunc("/alerts/{id}", h.getAlert).Methods(http.MethodGet)
	ws.HandleFunc("/alerts/{id}/attempts", h.attempts).Methods(http.MethodGet)
	ws.HandleFunc("/alerts/{id}/ack", h.acknowledge).Methods(http.MethodPost)
	ws.HandleFunc("/alerts/{id}/resolve", h.resolve).Methods(http.MethodPost)

	ws.HandleFunc("/rules", h.listRules).Methods(http.MethodGet)
	ws.HandleFunc("/rules/test", h.testRule).Methods(http.MethodPost)
	ws.HandleFunc("/rules/{id}", h.getRule).Methods(http.MethodGet)
	ws.HandleFunc("/rules/{id}", h.putRule).Methods(http.MethodPut)
	ws.HandleFunc("/rules/{id}", h.deleteRule).Methods(http.MethodDelete)

	ws.HandleFunc("/suppressions", h.listWindows).Methods(http.MethodGet)
	ws.HandleFunc("/suppressions", h.createWindow).Methods(http.MethodPost)
	ws.HandleFunc("/suppressions/{id}", h.deleteWindow).Methods(http.MethodDelete)

	ws.HandleFunc("/evaluate", h.evaluate).Methods(http.MethodPost)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, HealthResponse{Status: "ok", Time: h.engine.Now().UTC().Format(time.RFC3339)})
}

// listAlerts returns GET .../alerts?state=&rule=&limit=, newest first.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := types.AlertFilter{State: types.AlertState(q.Get("state")), RuleID: q.Get("rule")}
	switch f.State {
	case "", types.StateOpen, types.StateAcknowledged, types.StateResolved:
	default:
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", f.State))
		return
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	list, err := h.engine.Alerts(r.Context(), mux.Vars(r)["ws"], f)
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []types.Alert{}
	}
	jsonResp(w, http.StatusOK, list)
}

// getAlert returns one alert with delivery diagnostics.
func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request) {
	a, ok := h.scopedAlert(w, r)
	if !ok {
		return
	}
	attempts, err := h.engine.Attempts(r.Context(), a.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := AlertResponse{Alert: a, Diagnostics: computeDiagnostics(a, attempts, h.engine.Now())}
	if level, due, ok := h.engine.PendingEscalation(a.ID); ok {
		resp.NextEscalation = &PendingEscalation{Level: level, Due: due.UTC().Format(time.RFC3339)}
	}
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) attempts(w http.ResponseWriter, r *http.Request) {
	a, ok := h.scopedAlert(w, r)
	if !ok {
		return
	}
	list, err := h.engine.Attempts(r.Context(), a.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []types.NotificationAttempt{}
	}
	jsonResp(w, http.StatusOK, list)
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.User == "" {
		jsonErr(w, http.StatusBadRequest, "user is required")
		return
	}
	a, ok := h.scopedAlert(w, r)
	if !ok {
		return
	}
	updated, err := h.engine.Acknowledge(r.Context(), a.ID, req.User)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, updated)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.User == "" {
		jsonErr(w, http.StatusBadRequest, "user is required")
		return
	}
	a, ok := h.scopedAlert(w, r)
	if !ok {
		return
	}
	updated, err := h.engine.Resolve(r.Context(), a.ID, req.User, req.Notes)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, updated)
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.Rules(r.Context(), mux.Vars(r)["ws"])
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []types.AlertRule{}
	}
	jsonResp(w, http.StatusOK, list)
}

func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rule, err := h.engine.Rule(r.Context(), vars["ws"], vars["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, rule)
}

// putRule creates or replaces a rule. The path decides workspace and ID.
func (h *Handler) putRule(w http.ResponseWriter, r *http.Request) {
	var rule types.AlertRule
	if !decodeBody(w, r, &rule) {
		return
	}
	vars := mux.Vars(r)
	rule.WorkspaceID, rule.ID = vars["ws"], vars["id"]
	if err := h.engine.PutRule(r.Context(), rule); err != nil {
		writeErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, rule)
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.engine.DeleteRule(r.Context(), vars["ws"], vars["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// testRule replays a condition over caller-supplied samples. Nothing is
// persisted and nothing is sent.
func (h *Handler) testRule(w http.ResponseWriter, r *http.Request) {
	var req testRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	trace, err := h.engine.TestRule(req.Condition, req.Samples)
	if err != nil {
		writeErr(w, err)
		return
	}
	if trace.Steps == nil {
		trace.Steps = []condition.Step{}
	}
	jsonResp(w, http.StatusOK, trace)
}

func (h *Handler) listWindows(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.Windows(r.Context(), mux.Vars(r)["ws"])
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []types.SuppressionWindow{}
	}
	jsonResp(w, http.StatusOK, list)
}

func (h *Handler) createWindow(w http.ResponseWriter, r *http.Request) {
	var win types.SuppressionWindow
	if !decodeBody(w, r, &win) {
		return
	}
	win.WorkspaceID = mux.Vars(r)["ws"]
	created, err := h.engine.PutWindow(r.Context(), win)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, created)
}

func (h *Handler) deleteWindow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.engine.DeleteWindow(r.Context(), vars["ws"], vars["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// evaluate runs one tick for the workspace now. Rule faults are reported
// but do not fail the request.
func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	resp := EvaluateResponse{Workspace: mux.Vars(r)["ws"]}
	if err := h.engine.EvaluateTick(r.Context(), resp.Workspace); err != nil {
		resp.Errors = []string{err.Error()}
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

// scopedAlert loads {id} within {ws}, writing the error response on failure.
func (h *Handler) scopedAlert(w http.ResponseWriter, r *http.Request) (*types.Alert, bool) {
	vars := mux.Vars(r)
	a, err := h.engine.Alert(r.Context(), vars["ws"], vars["id"])
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return a, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeErr maps engine errors onto HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case types.IsValidation(err):
		jsonErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrNotFound):
		jsonErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrAlreadyResolved), errors.Is(err, types.ErrConflict):
		jsonErr(w, http.StatusConflict, err.Error())
	default:
		slog.Error("api: request failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "internal error")
	}
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// methodNotAllowed answers a known path hit with the wrong method. Subrouters
// otherwise report it as 404.
func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	jsonErr(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path))
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
