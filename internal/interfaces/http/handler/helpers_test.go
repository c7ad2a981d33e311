package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appdelivery "github.com/itechsmart/sentinel/internal/application/delivery"
	appslo "github.com/itechsmart/sentinel/internal/application/slo"
	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/itechsmart/sentinel/internal/domain/slo"
	"github.com/itechsmart/sentinel/internal/interfaces/http/dto"
	"github.com/itechsmart/sentinel/internal/interfaces/http/middleware"
	"github.com/itechsmart/sentinel/internal/testutil"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// decode unmarshals the envelope and, when data is non-nil, its data field
func decode(t *testing.T, w *httptest.ResponseRecorder, data any) dto.Response {
	t.Helper()
	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *dto.ErrorInfo  `json:"error"`
		Meta    *dto.Meta       `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw), w.Body.String())
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return dto.Response{Success: raw.Success, Error: raw.Error, Meta: raw.Meta}
}

func newTestMessage(t *testing.T, status delivery.Status) *delivery.Message {
	t.Helper()
	content := testutil.NewHL7Fixture(42).ADT(testutil.ADTOptions{ControlID: "CTRL1"})
	msg, err := delivery.NewMessage("HL7-20260101000000-abcdef01", content, "", "lab", 5, 3)
	require.NoError(t, err)
	msg.Status = status
	return msg
}

// fakeDelivery keeps messages in a map and records calls
type fakeDelivery struct {
	messages  map[string]*delivery.Message
	stats     delivery.Statistics
	submitted []appdelivery.SubmitMessageRequest
	duplicate bool
	lastLimit int
	err       error
}

func newFakeDelivery(msgs ...*delivery.Message) *fakeDelivery {
	f := &fakeDelivery{messages: make(map[string]*delivery.Message)}
	for _, m := range msgs {
		f.messages[m.ID] = m
	}
	return f
}

func (f *fakeDelivery) find(id string) (*delivery.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.messages[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return m, nil
}

func (f *fakeDelivery) Submit(_ context.Context, req appdelivery.SubmitMessageRequest) (*appdelivery.SubmitResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = append(f.submitted, req)
	if f.duplicate {
		return &appdelivery.SubmitResult{MessageID: "HL7-existing", Status: "duplicate", Duplicate: true}, nil
	}
	return &appdelivery.SubmitResult{MessageID: "HL7-new", Status: string(delivery.StatusPending)}, nil
}

func (f *fakeDelivery) Message(_ context.Context, id string) (*delivery.Message, error) {
	return f.find(id)
}

func (f *fakeDelivery) MessageAttempts(_ context.Context, id string) ([]appdelivery.AttemptResponse, error) {
	if _, err := f.find(id); err != nil {
		return nil, err
	}
	return []appdelivery.AttemptResponse{
		{ID: uuid.New(), Number: 1, Destination: "lab", Error: "connection_refused: dial tcp"},
		{ID: uuid.New(), Number: 2, Destination: "lab", Success: true, AckCode: "AA"},
	}, nil
}

func (f *fakeDelivery) Quarantine(_ context.Context, id, reason string) error {
	m, err := f.find(id)
	if err != nil {
		return err
	}
	if err := m.Quarantine(reason); err != nil {
		return shared.WrapDomainError("NOT_FOUND", "message is not in the retry queue", err)
	}
	return nil
}

func (f *fakeDelivery) RetryDeadLetter(_ context.Context, id string) error {
	m, err := f.find(id)
	if err != nil {
		return err
	}
	return m.ResetFromDeadLetter()
}

func (f *fakeDelivery) RetryAllDeadLetters(context.Context) (int, error) {
	n := 0
	for _, m := range f.messages {
		if m.ResetFromDeadLetter() == nil {
			n++
		}
	}
	return n, f.err
}

func (f *fakeDelivery) Statistics(context.Context) (*delivery.Statistics, error) {
	if f.err != nil {
		return nil, f.err
	}
	stats := f.stats
	return &stats, nil
}

func (f *fakeDelivery) list(limit int, statuses ...delivery.Status) ([]appdelivery.MessageResponse, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []*delivery.Message
	for _, m := range f.messages {
		for _, s := range statuses {
			if m.Status == s {
				out = append(out, m)
			}
		}
	}
	return appdelivery.ToMessageResponses(out), nil
}

func (f *fakeDelivery) RetryQueue(_ context.Context, limit int) ([]appdelivery.MessageResponse, error) {
	return f.list(limit, delivery.StatusPending, delivery.StatusRetrying)
}

func (f *fakeDelivery) DeadLetterQueue(_ context.Context, limit int) ([]appdelivery.MessageResponse, error) {
	return f.list(limit, delivery.StatusDeadLetter)
}

func (f *fakeDelivery) QuarantineQueue(_ context.Context, limit int) ([]appdelivery.MessageResponse, error) {
	return f.list(limit, delivery.StatusQuarantined)
}

// fakeSLO serves one SLO definition
type fakeSLO struct {
	id         uuid.UUID
	lastFilter slo.Filter
	lastHours  int
	lastDays   int
	created    []appslo.CreateSLORequest
}

func newFakeSLO() *fakeSLO {
	return &fakeSLO{id: uuid.New()}
}

func (f *fakeSLO) check(id uuid.UUID) error {
	if id != f.id {
		return shared.ErrNotFound
	}
	return nil
}

func (f *fakeSLO) response() *appslo.SLOResponse {
	return &appslo.SLOResponse{ID: f.id, Name: "lab delivery", TargetPercentage: 99.5}
}

func (f *fakeSLO) snapshot() *slo.Snapshot {
	current := 99.9
	return &slo.Snapshot{SLOID: f.id, Name: "lab delivery", Service: "lab", CurrentPercentage: &current, Status: slo.StatusHealthy}
}

func (f *fakeSLO) CreateSLO(_ context.Context, req appslo.CreateSLORequest) (*appslo.SLOResponse, error) {
	f.created = append(f.created, req)
	return f.response(), nil
}

func (f *fakeSLO) GetSLO(_ context.Context, id uuid.UUID) (*appslo.SLOResponse, error) {
	if err := f.check(id); err != nil {
		return nil, err
	}
	return f.response(), nil
}

func (f *fakeSLO) RecordMeasurement(_ context.Context, id uuid.UUID, req appslo.RecordMeasurementRequest) (*appslo.MeasurementResponse, error) {
	if err := f.check(id); err != nil {
		return nil, err
	}
	if req.SuccessCount > req.TotalCount {
		return nil, shared.NewDomainError("INVALID_INPUT", "success_count cannot exceed total_count")
	}
	return &appslo.MeasurementResponse{ID: uuid.New(), SLOID: id, SuccessCount: req.SuccessCount, TotalCount: req.TotalCount, Timestamp: time.Now()}, nil
}

func (f *fakeSLO) Status(_ context.Context, id uuid.UUID) (*slo.Snapshot, error) {
	if err := f.check(id); err != nil {
		return nil, err
	}
	return f.snapshot(), nil
}

func (f *fakeSLO) History(_ context.Context, id uuid.UUID, hours int) ([]appslo.MeasurementResponse, error) {
	f.lastHours = hours
	if err := f.check(id); err != nil {
		return nil, err
	}
	return []appslo.MeasurementResponse{{ID: uuid.New(), SLOID: id, SuccessCount: 9, TotalCount: 10}}, nil
}

func (f *fakeSLO) List(_ context.Context, filter slo.Filter) ([]*slo.Snapshot, error) {
	f.lastFilter = filter
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, shared.NewDomainError("INVALID_INPUT", "unknown SLO status: "+string(filter.Status))
	}
	return []*slo.Snapshot{f.snapshot()}, nil
}

func (f *fakeSLO) CheckViolations(context.Context, string) ([]*slo.Violation, error) {
	return []*slo.Violation{}, nil
}

func (f *fakeSLO) PredictBreach(_ context.Context, id uuid.UUID, hoursAhead int) (*slo.Prediction, error) {
	f.lastHours = hoursAhead
	if err := f.check(id); err != nil {
		return nil, err
	}
	return &slo.Prediction{SLOID: id, PredictionWindowHours: hoursAhead}, nil
}

func (f *fakeSLO) Report(_ context.Context, _ string, days int) (*slo.Report, error) {
	f.lastDays = days
	return &slo.Report{}, nil
}
