package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-dobiss/internal/audit"
	"github.com/nerrad567/gray-logic-dobiss/internal/bridges/dobiss"
)

const (
	// commandSubmitTimeout bounds handing a request to the driver loop.
	commandSubmitTimeout = 2 * time.Second

	// setStateWaitTimeout bounds a state change with wait=true. It covers
	// every retry of one command.
	setStateWaitTimeout = 5 * time.Second
)

// outputResponse is the JSON representation of one configured output.
type outputResponse struct {
	ID       string        `json:"id"`
	UniqueID string        `json:"unique_id"`
	Name     string        `json:"name"`
	Address  string        `json:"address"`
	Module   uint8         `json:"module"`
	Output   uint8         `json:"output"`
	Dimmable bool          `json:"dimmable"`
	State    stateResponse `json:"state"`
}

// stateResponse is the JSON representation of an output's modelled state.
// Level is present for dimmers only.
type stateResponse struct {
	On          bool       `json:"on"`
	Level       *int       `json:"level,omitempty"`
	Confidence  string     `json:"confidence"`
	Known       bool       `json:"known"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// setStateRequest is the body of PUT /outputs/{id}/state.
type setStateRequest struct {
	On    *bool `json:"on"`
	Level *int  `json:"level"`

	// Wait holds the response until the module confirms or the command
	// fails.
	Wait bool `json:"wait"`
}

func newOutputResponse(out dobiss.Output, st dobiss.OutputState) outputResponse {
	return outputResponse{
		ID:       out.ID,
		UniqueID: out.Address.UniqueID(),
		Name:     out.Name,
		Address:  out.Address.String(),
		Module:   out.Address.Module,
		Output:   out.Address.Output,
		Dimmable: out.Dimmable(),
		State:    newStateResponse(st),
	}
}

func newStateResponse(st dobiss.OutputState) stateResponse {
	resp := stateResponse{
		On:         st.On,
		Confidence: string(st.Confidence),
		Known:      st.Known(),
	}
	if st.Dimmable {
		level := int(st.Level)
		resp.Level = &level
	}
	if st.Known() {
		ts := st.LastUpdated.UTC()
		resp.LastUpdated = &ts
	}
	return resp
}

// handleListOutputs returns every configured output with its current state,
// in configuration order.
func (s *Server) handleListOutputs(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.driver.Snapshot()
	entries := s.driver.Table().Entries()

	outputs := make([]outputResponse, 0, len(entries))
	for _, out := range entries {
		outputs = append(outputs, newOutputResponse(out, snapshot[out.Address]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"outputs": outputs,
		"count":   len(outputs),
	})
}

// handleGetOutput returns one output. The id may be the configured id, the
// unique id ("dobiss.1.2") or the address ("1.2").
func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	out, ok := s.lookupOutput(w, r)
	if !ok {
		return
	}

	st, err := s.driver.State(out.Address)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newOutputResponse(out, st))
}

// handleSetOutputState switches or dims an output.
//
// Without wait the response is 202 as soon as the driver has sent the
// command. With wait it is 200 with the confirmed state, or an error
// status once retries are exhausted (504) or the command is superseded
// (409).
func (s *Server) handleSetOutputState(w http.ResponseWriter, r *http.Request) {
	out, ok := s.lookupOutput(w, r)
	if !ok {
		return
	}

	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "on is required")
		return
	}
	var level uint8
	if req.Level != nil {
		if *req.Level < 0 || *req.Level > dobiss.MaxLevel {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "level must be between 0 and 100")
			return
		}
		level = uint8(*req.Level) //nolint:gosec // range checked above
	}

	details := map[string]any{"on": *req.On}
	if req.Level != nil {
		details["level"] = *req.Level
	}

	submitCtx, cancel := context.WithTimeout(r.Context(), commandSubmitTimeout)
	defer cancel()

	h, err := s.driver.SetState(submitCtx, out.Address, *req.On, level)
	if err != nil {
		details["error"] = err.Error()
		s.recordAudit(r, audit.ActionSetState, audit.OutcomeFailed, &out, details)
		writeCommandError(w, err)
		return
	}
	details["command_id"] = h.Key()

	if !req.Wait {
		s.recordAudit(r, audit.ActionSetState, audit.OutcomeAccepted, &out, details)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":     "accepted",
			"command_id": h.Key(),
			"address":    out.Address.String(),
		})
		return
	}

	waitCtx, cancelWait := context.WithTimeout(r.Context(), setStateWaitTimeout)
	defer cancelWait()

	st, err := h.Wait(waitCtx)
	details["attempts"] = h.Attempts()
	if err != nil {
		s.logger.Debug("output command failed",
			"address", out.Address.String(),
			"attempts", h.Attempts(),
			"error", err,
		)
		details["error"] = err.Error()
		s.recordAudit(r, audit.ActionSetState, audit.OutcomeFailed, &out, details)
		writeCommandError(w, err)
		return
	}
	s.recordAudit(r, audit.ActionSetState, audit.OutcomeConfirmed, &out, details)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "confirmed",
		"command_id": h.Key(),
		"address":    out.Address.String(),
		"attempts":   h.Attempts(),
		"latency_ms": h.Latency().Milliseconds(),
		"state":      newStateResponse(st),
	})
}

// handleRefreshOutput queues a status poll for one output.
func (s *Server) handleRefreshOutput(w http.ResponseWriter, r *http.Request) {
	out, ok := s.lookupOutput(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandSubmitTimeout)
	defer cancel()

	if err := s.driver.Refresh(ctx, out.Address); err != nil {
		s.recordAudit(r, audit.ActionRefresh, audit.OutcomeFailed, &out, map[string]any{"error": err.Error()})
		writeCommandError(w, err)
		return
	}
	s.recordAudit(r, audit.ActionRefresh, audit.OutcomeQueued, &out, nil)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "queued",
		"address": out.Address.String(),
	})
}

// handleRefreshAll queues a status poll for every output.
func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), commandSubmitTimeout)
	defer cancel()

	if err := s.driver.RefreshAll(ctx); err != nil {
		s.recordAudit(r, audit.ActionRefreshAll, audit.OutcomeFailed, nil, map[string]any{"error": err.Error()})
		writeCommandError(w, err)
		return
	}
	s.recordAudit(r, audit.ActionRefreshAll, audit.OutcomeQueued, nil, nil)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "queued",
		"count":  s.driver.Table().Len(),
	})
}

// lookupOutput resolves the {id} URL parameter, writing a 404 on failure.
func (s *Server) lookupOutput(w http.ResponseWriter, r *http.Request) (dobiss.Output, bool) {
	id := chi.URLParam(r, "id")
	out, err := s.driver.Table().Lookup(id)
	if err != nil {
		writeNotFound(w, "output not found: "+id)
		return dobiss.Output{}, false
	}
	return out, true
}
