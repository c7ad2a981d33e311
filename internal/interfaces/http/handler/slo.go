package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appslo "github.com/itechsmart/sentinel/internal/application/slo"
	"github.com/itechsmart/sentinel/internal/domain/slo"
)

// SLOService is the subset of the SLO application service used here
type SLOService interface {
	CreateSLO(ctx context.Context, req appslo.CreateSLORequest) (*appslo.SLOResponse, error)
	GetSLO(ctx context.Context, id uuid.UUID) (*appslo.SLOResponse, error)
	RecordMeasurement(ctx context.Context, id uuid.UUID, req appslo.RecordMeasurementRequest) (*appslo.MeasurementResponse, error)
	Status(ctx context.Context, id uuid.UUID) (*slo.Snapshot, error)
	History(ctx context.Context, id uuid.UUID, hours int) ([]appslo.MeasurementResponse, error)
	List(ctx context.Context, filter slo.Filter) ([]*slo.Snapshot, error)
	CheckViolations(ctx context.Context, serviceName string) ([]*slo.Violation, error)
	PredictBreach(ctx context.Context, id uuid.UUID, hoursAhead int) (*slo.Prediction, error)
	Report(ctx context.Context, serviceName string, days int) (*slo.Report, error)
}

// SLODetailResponse is an SLO definition with its live evaluation
type SLODetailResponse struct {
	*appslo.SLOResponse
	Current *slo.Snapshot `json:"current"`
}

// SLOHandler serves SLO definitions, measurements and analysis
type SLOHandler struct {
	BaseHandler
	sloService SLOService
}

// NewSLOHandler creates a new SLO handler
func NewSLOHandler(sloService SLOService) *SLOHandler {
	return &SLOHandler{sloService: sloService}
}

// Create handles POST /slos
func (h *SLOHandler) Create(c *gin.Context) {
	var req appslo.CreateSLORequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.sloService.CreateSLO(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, resp)
}

// List handles GET /slos?service=&status=
func (h *SLOHandler) List(c *gin.Context) {
	snaps, err := h.sloService.List(c.Request.Context(), slo.Filter{
		ServiceName: c.Query("service"),
		Status:      slo.Status(c.Query("status")),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.BaseHandler.List(c, snaps, int64(len(snaps)), len(snaps), 0)
}

// Get handles GET /slos/:id
func (h *SLOHandler) Get(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	def, err := h.sloService.GetSLO(ctx, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	snap, err := h.sloService.Status(ctx, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, SLODetailResponse{SLOResponse: def, Current: snap})
}

// RecordMeasurement handles POST /slos/:id/measurements
func (h *SLOHandler) RecordMeasurement(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req appslo.RecordMeasurementRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.sloService.RecordMeasurement(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, resp)
}

// History handles GET /slos/:id/history?hours=
func (h *SLOHandler) History(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	hours, ok := h.queryInt(c, "hours", appslo.DefaultHistoryHours, 1, 24*365)
	if !ok {
		return
	}

	ms, err := h.sloService.History(c.Request.Context(), id, hours)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.BaseHandler.List(c, ms, int64(len(ms)), len(ms), 0)
}

// Prediction handles GET /slos/:id/prediction?hours_ahead=
func (h *SLOHandler) Prediction(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	hoursAhead, ok := h.queryInt(c, "hours_ahead", slo.DefaultPredictionHours, 1, 24*90)
	if !ok {
		return
	}

	p, err := h.sloService.PredictBreach(c.Request.Context(), id, hoursAhead)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, p)
}

// Violations handles GET /slos/violations?service=
func (h *SLOHandler) Violations(c *gin.Context) {
	vs, err := h.sloService.CheckViolations(c.Request.Context(), c.Query("service"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.BaseHandler.List(c, vs, int64(len(vs)), len(vs), 0)
}

// Report handles GET /slos/report?service=&days=
func (h *SLOHandler) Report(c *gin.Context) {
	days, ok := h.queryInt(c, "days", appslo.DefaultReportDays, 1, 365)
	if !ok {
		return
	}

	report, err := h.sloService.Report(c.Request.Context(), c.Query("service"), days)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}
