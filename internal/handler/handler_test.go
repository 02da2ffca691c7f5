package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/lumenpath/funnel-analytics-service/internal/domain"
	"github.com/lumenpath/funnel-analytics-service/internal/dto"
)

// MockFunnelService is a mock implementation of service.FunnelServicer
type MockFunnelService struct {
	mock.Mock
}

func (m *MockFunnelService) CreateStage(ctx context.Context, req *dto.CreateStageRequest) (*domain.StageDefinition, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StageDefinition), args.Error(1)
}

func (m *MockFunnelService) ListStages(ctx context.Context) ([]domain.StageDefinition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StageDefinition), args.Error(1)
}

func (m *MockFunnelService) RecordTransition(ctx context.Context, req *dto.RecordTransitionRequest) (*domain.Lead, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Lead), args.Error(1)
}

func (m *MockFunnelService) BoardSnapshot(ctx context.Context) (*dto.BoardSnapshotResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.BoardSnapshotResponse), args.Error(1)
}

func (m *MockFunnelService) FunnelAnalytics(ctx context.Context) ([]domain.StageAnalytics, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StageAnalytics), args.Error(1)
}

// MockExperimentService is a mock implementation of service.ExperimentServicer
type MockExperimentService struct {
	mock.Mock
}

func (m *MockExperimentService) CreateTest(ctx context.Context, req *dto.CreateTestRequest) (*domain.Experiment, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Experiment), args.Error(1)
}

func (m *MockExperimentService) GetTest(ctx context.Context, testID string) (*domain.Experiment, error) {
	args := m.Called(ctx, testID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Experiment), args.Error(1)
}

func (m *MockExperimentService) ListTests(ctx context.Context) ([]domain.Experiment, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Experiment), args.Error(1)
}

func (m *MockExperimentService) UpdateTestStatus(ctx context.Context, testID, status string) (*domain.Experiment, error) {
	args := m.Called(ctx, testID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Experiment), args.Error(1)
}

func (m *MockExperimentService) CreateVariant(ctx context.Context, testID string, req *dto.CreateVariantRequest) (*domain.Variant, error) {
	args := m.Called(ctx, testID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Variant), args.Error(1)
}

func (m *MockExperimentService) ListVariants(ctx context.Context, testID string) ([]domain.Variant, error) {
	args := m.Called(ctx, testID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Variant), args.Error(1)
}

func (m *MockExperimentService) ListEligibleTests(ctx context.Context, persona, funnelStage string) ([]domain.Experiment, error) {
	args := m.Called(ctx, persona, funnelStage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Experiment), args.Error(1)
}

func (m *MockExperimentService) GetOrCreateAssignment(ctx context.Context, req *dto.AssignmentRequest) (*dto.AssignmentResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.AssignmentResponse), args.Error(1)
}

func (m *MockExperimentService) TrackEvent(ctx context.Context, req *dto.TrackEventRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockExperimentService) TrackBulkEvents(ctx context.Context, events []dto.TrackEventRequest) ([]string, []string, error) {
	args := m.Called(ctx, events)
	return args.Get(0).([]string), args.Get(1).([]string), args.Error(2)
}

func (m *MockExperimentService) TestAnalytics(ctx context.Context, testID string) (*dto.TestAnalyticsResponse, error) {
	args := m.Called(ctx, testID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.TestAnalyticsResponse), args.Error(1)
}

func newTestHandler() (*Handler, *MockFunnelService, *MockExperimentService) {
	mockFunnel := new(MockFunnelService)
	mockExperiment := new(MockExperimentService)
	return NewHandler(mockFunnel, mockExperiment, zap.NewNop()), mockFunnel, mockExperiment
}

func postJSON(handler *Handler, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHandler_HealthCheck(t *testing.T) {
	handler, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "ok", response["status"])
}

func TestHandler_RecordTransition_Success(t *testing.T) {
	handler, mockFunnel, _ := newTestHandler()

	transitionReq := dto.RecordTransitionRequest{
		LeadID:  "lead_1",
		ToStage: "contacted",
		ActorID: "actor_1",
	}
	mockFunnel.On("RecordTransition", mock.Anything, &transitionReq).
		Return(&domain.Lead{ID: "lead_1", CurrentStage: "contacted"}, nil)

	w := postJSON(handler, "/transitions", transitionReq)

	assert.Equal(t, http.StatusOK, w.Code)

	var lead domain.Lead
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &lead))
	assert.Equal(t, "contacted", lead.CurrentStage)
	mockFunnel.AssertExpectations(t)
}

func TestHandler_RecordTransition_UnknownStageIs404(t *testing.T) {
	handler, mockFunnel, _ := newTestHandler()

	mockFunnel.On("RecordTransition", mock.Anything, mock.Anything).
		Return(nil, domain.ErrUnknownStage)

	w := postJSON(handler, "/transitions", dto.RecordTransitionRequest{
		LeadID:  "lead_1",
		ToStage: "bogus",
		ActorID: "actor_1",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)

	var response dto.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "not_found", response.Error)
}

func TestHandler_RecordTransition_MissingFieldsIs400(t *testing.T) {
	handler, mockFunnel, _ := newTestHandler()

	w := postJSON(handler, "/transitions", map[string]string{"lead_id": "lead_1"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockFunnel.AssertNotCalled(t, "RecordTransition", mock.Anything, mock.Anything)
}

func TestHandler_CreateStage_DuplicateIs409(t *testing.T) {
	handler, mockFunnel, _ := newTestHandler()

	mockFunnel.On("CreateStage", mock.Anything, mock.Anything).
		Return(nil, domain.ErrDuplicateStage)

	w := postJSON(handler, "/stages", dto.CreateStageRequest{
		Slug: "new_lead", Name: "New Lead", Position: 0,
	})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_GetFunnelAnalytics(t *testing.T) {
	handler, mockFunnel, _ := newTestHandler()

	rate := 60.0
	mockFunnel.On("FunnelAnalytics", mock.Anything).Return([]domain.StageAnalytics{
		{Stage: "New Lead", StageSlug: "new_lead", TotalEntered: 10, ConversionRate: &rate},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/funnel/analytics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.FunnelAnalyticsResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Len(t, response.Stages, 1)
	assert.Equal(t, 60.0, *response.Stages[0].ConversionRate)
}

func TestHandler_GetOrCreateAssignment_CreatedIs201(t *testing.T) {
	handler, _, mockExperiment := newTestHandler()

	assignmentReq := dto.AssignmentRequest{
		TestID:    "tst_1",
		SessionID: "sess_1",
	}
	mockExperiment.On("GetOrCreateAssignment", mock.Anything, &assignmentReq).
		Return(&dto.AssignmentResponse{
			TestID: "tst_1", VariantID: "var_a", SessionID: "sess_1", NewlyCreated: true,
		}, nil)

	w := postJSON(handler, "/assignments", assignmentReq)

	assert.Equal(t, http.StatusCreated, w.Code)

	var response dto.AssignmentResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "var_a", response.VariantID)
	assert.True(t, response.NewlyCreated)
}

func TestHandler_GetOrCreateAssignment_StickyIs200(t *testing.T) {
	handler, _, mockExperiment := newTestHandler()

	mockExperiment.On("GetOrCreateAssignment", mock.Anything, mock.Anything).
		Return(&dto.AssignmentResponse{
			TestID: "tst_1", VariantID: "var_a", SessionID: "sess_1", NewlyCreated: false,
		}, nil)

	w := postJSON(handler, "/assignments", dto.AssignmentRequest{
		TestID: "tst_1", SessionID: "sess_1",
	})

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_GetOrCreateAssignment_InactiveTestIs409(t *testing.T) {
	handler, _, mockExperiment := newTestHandler()

	mockExperiment.On("GetOrCreateAssignment", mock.Anything, mock.Anything).
		Return(nil, domain.ErrTestNotActive)

	w := postJSON(handler, "/assignments", dto.AssignmentRequest{
		TestID: "tst_1", SessionID: "sess_1",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_TrackEvent_Accepted(t *testing.T) {
	handler, _, mockExperiment := newTestHandler()

	eventReq := dto.TrackEventRequest{
		TestID:    "tst_1",
		VariantID: "var_a",
		SessionID: "sess_1",
		EventType: "exposure",
	}
	mockExperiment.On("TrackEvent", mock.Anything, &eventReq).Return("evt_123", nil)

	w := postJSON(handler, "/events", eventReq)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var response dto.TrackEventResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "evt_123", response.EventID)
	assert.Equal(t, "accepted", response.Status)
}

func TestHandler_TrackEvent_UnknownVariantIs404(t *testing.T) {
	handler, _, mockExperiment := newTestHandler()

	mockExperiment.On("TrackEvent", mock.Anything, mock.Anything).
		Return("", domain.ErrUnknownVariant)

	w := postJSON(handler, "/events", dto.TrackEventRequest{
		TestID: "tst_1", VariantID: "var_bogus", SessionID: "sess_1", EventType: "exposure",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_TrackEvent_InvalidEventTypeIs400(t *testing.T) {
	handler, _, mockExperiment := newTestHandler()

	w := postJSON(handler, "/events", dto.TrackEventRequest{
		TestID: "tst_1", VariantID: "var_a", SessionID: "sess_1", EventType: "pageview",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockExperiment.AssertNotCalled(t, "TrackEvent", mock.Anything, mock.Anything)
}

func TestHandler_TrackEventsBulk(t *testing.T) {
	handler, _, mockExperiment := newTestHandler()

	events := []dto.TrackEventRequest{
		{TestID: "tst_1", VariantID: "var_a", SessionID: "s1", EventType: "exposure"},
		{TestID: "tst_1", VariantID: "var_a", SessionID: "s2", EventType: "conversion"},
	}
	mockExperiment.On("TrackBulkEvents", mock.Anything, events).
		Return([]string{"evt_1", "evt_2"}, []string{}, nil)

	w := postJSON(handler, "/events/bulk", dto.TrackEventsBulkRequest{Events: events})

	assert.Equal(t, http.StatusAccepted, w.Code)

	var response dto.TrackEventsBulkResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 2, response.Accepted)
	assert.Equal(t, 0, response.Rejected)
}

func TestHandler_TrackEventsBulk_EmptyIs400(t *testing.T) {
	handler, _, mockExperiment := newTestHandler()

	w := postJSON(handler, "/events/bulk", dto.TrackEventsBulkRequest{Events: []dto.TrackEventRequest{}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockExperiment.AssertNotCalled(t, "TrackBulkEvents", mock.Anything, mock.Anything)
}

func TestHandler_UpdateTestStatus_ActivationConflictIs409(t *testing.T) {
	handler, _, mockExperiment := newTestHandler()

	mockExperiment.On("UpdateTestStatus", mock.Anything, "tst_1", "active").
		Return(nil, domain.ErrNoEligibleVariants)

	body, _ := json.Marshal(dto.UpdateTestStatusRequest{Status: "active"})
	req := httptest.NewRequest(http.MethodPatch, "/tests/tst_1/status", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_GetTestAnalytics(t *testing.T) {
	handler, _, mockExperiment := newTestHandler()

	significant := true
	mockExperiment.On("TestAnalytics", mock.Anything, "tst_1").
		Return(&dto.TestAnalyticsResponse{
			TestID:          "tst_1",
			ConfidenceLevel: 0.95,
			Variants: []domain.VariantAnalytics{
				{VariantID: "var_a", IsControl: true, Exposures: 1000, Conversions: 100},
				{VariantID: "var_b", Exposures: 1000, Conversions: 150, IsSignificant: &significant},
			},
		}, nil)

	req := httptest.NewRequest(http.MethodGet, "/tests/tst_1/analytics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.TestAnalyticsResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Len(t, response.Variants, 2)
	assert.True(t, response.Variants[0].IsControl)
	assert.True(t, *response.Variants[1].IsSignificant)
}

func TestHandler_ListEligibleTests(t *testing.T) {
	handler, _, mockExperiment := newTestHandler()

	mockExperiment.On("ListEligibleTests", mock.Anything, "donor", "contacted").
		Return([]domain.Experiment{{TestID: "tst_1", Status: domain.TestStatusActive}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/tests/eligible?persona=donor&funnel_stage=contacted", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var tests []domain.Experiment
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &tests))
	assert.Len(t, tests, 1)
	assert.Equal(t, "tst_1", tests[0].TestID)
}

func TestHandler_GetTest_UnknownIs404(t *testing.T) {
	handler, _, mockExperiment := newTestHandler()

	mockExperiment.On("GetTest", mock.Anything, "tst_missing").
		Return(nil, domain.ErrUnknownTest)

	req := httptest.NewRequest(http.MethodGet, "/tests/tst_missing", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
