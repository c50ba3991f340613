package receiver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/obsidianstack/alertengine/pkg/types"
)

// maxBody bounds one push request.
const maxBody = 4 << 20

// Appender stores pushed samples. samples.Buffer implements it.
type Appender interface {
	Append(workspaceID, metric string, samples ...types.Sample)
}

// Series is one metric's pushed samples.
type Series struct {
	Metric  string         `json:"metric"`
	Samples []types.Sample `json:"samples"`
}

// PushRequest is the body of POST .../samples.
type PushRequest struct {
	Series []Series `json:"series"`
}

// PushResponse confirms how many samples were stored.
type PushResponse struct {
	Accepted int `json:"accepted"`
}

// Receiver accepts metric samples pushed by collectors and writes them to
// an Appender. A request is validated as a whole before anything is stored.
type Receiver struct {
	buf Appender
}

// New creates a Receiver writing accepted samples to buf.
func New(buf Appender) *Receiver {
	return &Receiver{buf: buf}
}

// RegisterRoutes mounts POST /api/v1/workspaces/{ws}/samples.
func (rc *Receiver) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/workspaces/{ws}/samples", rc.push).Methods(http.MethodPost)
}

func (rc *Receiver) push(w http.ResponseWriter, r *http.Request) {
	ws := mux.Vars(r)["ws"]

	var req PushRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return
	}
	if err := validate(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	n := 0
	for _, s := range req.Series {
		rc.buf.Append(ws, s.Metric, s.Samples...)
		n += len(s.Samples)
	}

	slog.Debug("receiver: samples stored", "workspace", ws, "series", len(req.Series), "samples", n)
	writeJSON(w, http.StatusAccepted, PushResponse{Accepted: n})
}

func validate(req PushRequest) error {
	if len(req.Series) == 0 {
		return fmt.Errorf("series is required")
	}
	for i, s := range req.Series {
		if s.Metric == "" {
			return fmt.Errorf("series[%d]: metric is required", i)
		}
		if len(s.Samples) == 0 {
			return fmt.Errorf("series[%d] %q: no samples", i, s.Metric)
		}
		for j, sm := range s.Samples {
			if sm.Timestamp.IsZero() {
				return fmt.Errorf("series[%d] %q: samples[%d]: ts is required", i, s.Metric, j)
			}
			if math.IsNaN(sm.Value) || math.IsInf(sm.Value, 0) {
				return fmt.Errorf("series[%d] %q: samples[%d]: value must be finite", i, s.Metric, j)
			}
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
