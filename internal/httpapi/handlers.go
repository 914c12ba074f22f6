package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"alertbot/internal/orchestrator"
)

// instanceResult is the wire form of a per-instance power-on outcome.
type instanceResult struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Identity string `json:"identity,omitempty"`
	Already  bool   `json:"already_connected,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handlePowerOn(w http.ResponseWriter, r *http.Request) {
	results, err := s.orch.PowerOn(r.Context())
	if err != nil {
		// Wholesale failure: the store was unreachable before any
		// per-instance work started.
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	out := make([]instanceResult, 0, len(results))
	for _, res := range results {
		ir := instanceResult{
			ID:       res.ID,
			State:    string(res.State),
			Identity: res.Identity,
			Already:  res.AlreadyReady,
		}
		if res.Err != nil {
			ir.Error = res.Err.Error()
		}
		out = append(out, ir)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handlePowerOff(w http.ResponseWriter, r *http.Request) {
	results := s.orch.PowerOff(r.Context())
	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		m := map[string]any{"id": res.ID, "ok": res.Err == nil}
		if res.Err != nil {
			m["error"] = res.Err.Error()
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snaps := s.orch.Health()
	out := make(map[string]orchestrator.Snapshot, len(snaps))
	for _, sn := range snaps {
		out[sn.ID] = sn
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSendTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Instance string `json:"instance"`
		Group    string `json:"group"`
		Text     string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body: " + err.Error()})
		return
	}
	if req.Instance == "" || req.Group == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "instance, group and text are required"})
		return
	}
	if err := s.orch.SendTest(r.Context(), req.Instance, req.Group, req.Text); err != nil {
		writeJSON(w, statusFor(err), map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("instance")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "instance query parameter is required"})
		return
	}
	groups, err := s.orch.ListGroups(r.Context(), id)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"error": err.Error()})
		return
	}
	out := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		out = append(out, map[string]any{"id": g.ID, "name": g.Name, "members": g.Members})
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": out})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNotReady):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
