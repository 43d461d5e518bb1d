package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geoffsee/agent-mst/internal/application/service"
	"github.com/geoffsee/agent-mst/internal/domain/run"
	"github.com/geoffsee/agent-mst/internal/scenario"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportExporter renders a run and its trace into a spreadsheet
type ReportExporter interface {
	Export(rec *run.Run, steps []*run.Step) ([]byte, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	runService service.RunService
	exporter   ReportExporter
	logger     Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(runService service.RunService, exporter ReportExporter, logger Logger) *Handlers {
	return &Handlers{
		runService: runService,
		exporter:   exporter,
		logger:     logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// SubmitRunRequest represents the body of POST /api/runs
type SubmitRunRequest struct {
	Scenario  string                 `json:"scenario" binding:"required"`
	Overrides map[string]interface{} `json:"overrides"`
}

// ListRunsRequest represents query parameters for listing runs
type ListRunsRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// RunResponse represents a run in API responses
type RunResponse struct {
	ID           string            `json:"id"`
	Scenario     string            `json:"scenario"`
	Policy       string            `json:"policy"`
	Status       string            `json:"status"`
	FaultReason  string            `json:"fault_reason,omitempty"`
	FaultDetail  string            `json:"fault_detail,omitempty"`
	InitialState string            `json:"initial_state"`
	FinalState   string            `json:"final_state,omitempty"`
	Visited      []string          `json:"visited"`
	Iterations   int               `json:"iterations"`
	Transitions  int               `json:"transitions"`
	Fallbacks    int               `json:"fallbacks"`
	Failures     []FailureResponse `json:"failures,omitempty"`
	StartedAt    string            `json:"started_at"`
	FinishedAt   *string           `json:"finished_at,omitempty"`
	DurationMs   *int64            `json:"duration_ms,omitempty"`
}

// FailureResponse represents an isolated instruction failure in API responses
type FailureResponse struct {
	Iteration   int    `json:"iteration"`
	Index       int    `json:"index"`
	Description string `json:"description"`
	State       string `json:"state"`
	Error       string `json:"error"`
}

// StepResponse represents one archived loop iteration in API responses
type StepResponse struct {
	ID        int64  `json:"id"`
	Iteration int    `json:"iteration"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Source    string `json:"source"`
	RawChoice string `json:"raw_choice,omitempty"`
	Fallback  bool   `json:"fallback"`
	Stagnant  bool   `json:"stagnant"`
	Timestamp string `json:"timestamp"`
}

// ScenarioResponse represents a registered scenario in API responses
type ScenarioResponse struct {
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Policy         string            `json:"policy"`
	InitialState   string            `json:"initial_state"`
	PossibleStates []string          `json:"possible_states"`
	Instructions   []string          `json:"instructions,omitempty"`
	Successors     map[string]string `json:"successors,omitempty"`
	MaxIterations  int               `json:"max_iterations,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// SubmitRun handles POST /api/runs
func (h *Handlers) SubmitRun(c *gin.Context) {
	var req SubmitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid run submission", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body: scenario is required",
		})
		return
	}

	rec, err := h.runService.Submit(c.Request.Context(), req.Scenario, req.Overrides)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownScenario):
			c.JSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   "unknown scenario: " + req.Scenario,
			})
		case errors.Is(err, service.ErrNoOracle):
			c.JSON(http.StatusServiceUnavailable, Response{
				Success: false,
				Error:   "decision oracle not configured",
			})
		case errors.Is(err, service.ErrQueueUnavailable):
			c.JSON(http.StatusServiceUnavailable, Response{
				Success: false,
				Error:   "run queue busy, retry later",
			})
		default:
			h.logger.Error("Failed to submit run", "scenario", req.Scenario, "error", err)
			c.JSON(http.StatusInternalServerError, Response{
				Success: false,
				Error:   "failed to submit run",
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, Response{
		Success: true,
		Data:    toRunResponse(rec),
	})
}

// ListRuns handles GET /api/runs
func (h *Handlers) ListRuns(c *gin.Context) {
	var req ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid query parameters",
		})
		return
	}

	runs, err := h.runService.ListRuns(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.logger.Error("Failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve runs",
		})
		return
	}

	responses := make([]RunResponse, 0, len(runs))
	for _, rec := range runs {
		responses = append(responses, toRunResponse(rec))
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    responses,
	})
}

// GetRun handles GET /api/runs/:id
func (h *Handlers) GetRun(c *gin.Context) {
	id := c.Param("id")

	rec, err := h.runService.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, run.ErrNotFound) {
			c.JSON(http.StatusNotFound, Response{
				Success: false,
				Error:   "run not found",
			})
			return
		}
		h.logger.Error("Failed to get run", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve run",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toRunResponse(rec),
	})
}

// GetRunSteps handles GET /api/runs/:id/steps
func (h *Handlers) GetRunSteps(c *gin.Context) {
	id := c.Param("id")

	steps, err := h.runService.Trace(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, run.ErrNotFound) {
			c.JSON(http.StatusNotFound, Response{
				Success: false,
				Error:   "run not found",
			})
			return
		}
		h.logger.Error("Failed to get run steps", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve run steps",
		})
		return
	}

	responses := make([]StepResponse, 0, len(steps))
	for _, step := range steps {
		responses = append(responses, toStepResponse(step))
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    responses,
	})
}

// GetRunReport handles GET /api/runs/:id/report
func (h *Handlers) GetRunReport(c *gin.Context) {
	if h.exporter == nil {
		c.JSON(http.StatusServiceUnavailable, Response{
			Success: false,
			Error:   "reporting not configured",
		})
		return
	}

	id := c.Param("id")

	rec, err := h.runService.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, run.ErrNotFound) {
			c.JSON(http.StatusNotFound, Response{
				Success: false,
				Error:   "run not found",
			})
			return
		}
		h.logger.Error("Failed to get run for report", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve run",
		})
		return
	}

	steps, err := h.runService.Trace(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get trace for report", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve run steps",
		})
		return
	}

	data, err := h.exporter.Export(rec, steps)
	if err != nil {
		h.logger.Error("Failed to export report", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to generate report",
		})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="run-`+id+`.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

// ListScenarios handles GET /api/scenarios
func (h *Handlers) ListScenarios(c *gin.Context) {
	scenarios := h.runService.Scenarios()

	responses := make([]ScenarioResponse, 0, len(scenarios))
	for _, sc := range scenarios {
		responses = append(responses, toScenarioResponse(sc))
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    responses,
	})
}

// toRunResponse converts an archived run to the API response shape
func toRunResponse(rec *run.Run) RunResponse {
	resp := RunResponse{
		ID:           rec.ID,
		Scenario:     rec.Scenario,
		Policy:       rec.Policy,
		Status:       rec.Status.String(),
		FaultReason:  rec.FaultReason.String(),
		FaultDetail:  rec.FaultDetail,
		InitialState: rec.InitialState,
		FinalState:   rec.FinalState,
		Visited:      rec.Visited,
		Iterations:   rec.Iterations,
		Transitions:  rec.Transitions,
		Fallbacks:    rec.Fallbacks,
		StartedAt:    rec.StartedAt.Format(time.RFC3339),
	}

	for _, failure := range rec.Failures {
		resp.Failures = append(resp.Failures, FailureResponse{
			Iteration:   failure.Iteration,
			Index:       failure.Index,
			Description: failure.Description,
			State:       failure.State,
			Error:       failure.Error,
		})
	}

	if rec.FinishedAt != nil {
		finished := rec.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &finished
		duration := rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()
		resp.DurationMs = &duration
	}

	return resp
}

// toStepResponse converts an archived step to the API response shape
func toStepResponse(step *run.Step) StepResponse {
	return StepResponse{
		ID:        step.ID,
		Iteration: step.Iteration,
		FromState: step.FromState,
		ToState:   step.ToState,
		Source:    step.Source,
		RawChoice: step.RawChoice,
		Fallback:  step.Fallback,
		Stagnant:  step.Stagnant,
		Timestamp: step.Timestamp.Format(time.RFC3339),
	}
}

// toScenarioResponse converts a registered scenario to the API response shape
func toScenarioResponse(sc *scenario.Scenario) ScenarioResponse {
	states := make([]string, 0, len(sc.PossibleStates))
	for _, state := range sc.PossibleStates {
		states = append(states, string(state))
	}

	resp := ScenarioResponse{
		Name:           sc.Name,
		Description:    sc.Description,
		Policy:         sc.Policy,
		InitialState:   string(sc.InitialState),
		PossibleStates: states,
		MaxIterations:  sc.MaxIterations,
	}

	for _, in := range sc.Instructions {
		resp.Instructions = append(resp.Instructions, in.Description)
	}

	if len(sc.Successors) > 0 {
		resp.Successors = make(map[string]string, len(sc.Successors))
		for from, to := range sc.Successors {
			resp.Successors[string(from)] = string(to)
		}
	}

	return resp
}
