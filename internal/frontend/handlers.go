package frontend

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flowprobe/flowprobe/internal/catalog"
	"github.com/flowprobe/flowprobe/internal/engine"
	"github.com/flowprobe/flowprobe/internal/logger"
	"github.com/flowprobe/flowprobe/internal/model"
	"github.com/flowprobe/flowprobe/internal/schedule"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// runBody is the optional JSON body of synchronous run requests.
type runBody struct {
	EnvironmentID *uuid.UUID `json:"environmentId"`
}

func (s *Server) decodeRunBody(w http.ResponseWriter, r *http.Request) (*runBody, bool) {
	body := &runBody{}
	if r.Body == nil || r.ContentLength == 0 {
		return body, true
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	return body, true
}

func (s *Server) runError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrCycleDetected):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleRunSuite(w http.ResponseWriter, r *http.Request) {
	suiteID, err := pathUUID(r, "suiteId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid suite id")
		return
	}
	body, ok := s.decodeRunBody(w, r)
	if !ok {
		return
	}

	result, err := s.coord.RunSuite(r.Context(), engine.RunRequest{
		SuiteID:       suiteID,
		EnvironmentID: body.EnvironmentID,
		Trigger:       model.TriggerManual,
	})
	if err != nil {
		s.runError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRunStep(w http.ResponseWriter, r *http.Request) {
	suiteID, err := pathUUID(r, "suiteId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid suite id")
		return
	}
	stepID, err := pathUUID(r, "stepId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid step id")
		return
	}
	body, ok := s.decodeRunBody(w, r)
	if !ok {
		return
	}

	result, err := s.coord.RunStep(r.Context(), engine.RunRequest{
		SuiteID:       suiteID,
		StepID:        &stepID,
		EnvironmentID: body.EnvironmentID,
		Trigger:       model.TriggerManual,
	})
	if err != nil {
		s.runError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRunSuiteStream(w http.ResponseWriter, r *http.Request) {
	s.streamRun(w, r, nil)
}

func (s *Server) handleRunStepStream(w http.ResponseWriter, r *http.Request) {
	stepID, err := pathUUID(r, "stepId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid step id")
		return
	}
	s.streamRun(w, r, &stepID)
}

// streamRun executes a run while its events flow to the client. A
// dropped connection cancels the run through the request context.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, stepID *uuid.UUID) {
	suiteID, err := pathUUID(r, "suiteId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid suite id")
		return
	}
	var envID *uuid.UUID
	if v := r.URL.Query().Get("environmentId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid environment id")
			return
		}
		envID = &id
	}

	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stopHeartbeat := stream.startHeartbeat(r.Context(), s.cfg.HeartbeatInterval)
	defer stopHeartbeat()

	req := engine.RunRequest{
		SuiteID:       suiteID,
		StepID:        stepID,
		EnvironmentID: envID,
		Trigger:       model.TriggerManual,
		Sink:          stream,
	}
	var runErr error
	if stepID != nil {
		_, runErr = s.coord.RunStep(r.Context(), req)
	} else {
		_, runErr = s.coord.RunSuite(r.Context(), req)
	}
	if runErr != nil {
		s.streamError(r, stream, runErr)
	}
}

func (s *Server) streamError(r *http.Request, stream *sseStream, err error) {
	// planner failures already emitted run-error; everything else is
	// surfaced here
	if !errors.Is(err, model.ErrCycleDetected) {
		stream.Publish(r.Context(), engine.Event{
			Name: engine.EventRunError,
			Data: engine.RunErrorPayload{Message: err.Error()},
		})
	}
	logger.Warn(r.Context(), "Streamed run failed", "err", err)
}

type inputsBody struct {
	Values map[string]string `json:"values"`
}

func (s *Server) handleSubmitInputs(w http.ResponseWriter, r *http.Request) {
	runID, err := pathUUID(r, "runId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBody)
	var body inputsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	handle, ok := s.coord.Registry().Lookup(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found or already completed")
		return
	}
	if !handle.SubmitInputs(body.Values) {
		writeError(w, http.StatusConflict, "no step is waiting for input")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathUUID(r, "runId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	if !s.coord.Cancel(runID) {
		writeError(w, http.StatusNotFound, "run not found or already completed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathUUID(r, "runId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type runListResponse struct {
	Runs  []*model.Run `json:"runs"`
	Page  int          `json:"page"`
	Size  int          `json:"size"`
	Total int          `json:"total"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	suiteID, err := pathUUID(r, "suiteId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid suite id")
		return
	}

	page := catalog.Page{Number: 1, Size: s.cfg.DefaultPageSize}
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page.Number = n
		}
	}
	if v := r.URL.Query().Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page.Size = n
		}
	}
	if page.Size > s.cfg.MaxPageSize {
		page.Size = s.cfg.MaxPageSize
	}

	runs, total, err := s.store.ListRuns(r.Context(), suiteID, page)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runListResponse{
		Runs: runs, Page: page.Number, Size: page.Size, Total: total,
	})
}

type previewResponse struct {
	Expression string      `json:"expression"`
	Times      []time.Time `json:"times"`
}

func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	expr := r.URL.Query().Get("expression")
	if expr == "" {
		writeError(w, http.StatusBadRequest, "expression is required")
		return
	}
	count := 5
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 20 {
			count = n
		}
	}
	times, err := schedule.Preview(expr, count, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Expression: expr, Times: times})
}
