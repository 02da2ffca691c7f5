package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/lumenpath/funnel-analytics-service/docs"
	"github.com/lumenpath/funnel-analytics-service/internal/domain"
	"github.com/lumenpath/funnel-analytics-service/internal/dto"
	"github.com/lumenpath/funnel-analytics-service/internal/service"
)

type Handler struct {
	funnelService     service.FunnelServicer
	experimentService service.ExperimentServicer
	router            *gin.Engine
	log               *zap.Logger
}

func NewHandler(funnelService service.FunnelServicer, experimentService service.ExperimentServicer, log *zap.Logger) *Handler {
	h := &Handler{
		funnelService:     funnelService,
		experimentService: experimentService,
		router:            gin.Default(),
		log:               log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)

	h.router.POST("/stages", h.createStage)
	h.router.GET("/stages", h.listStages)
	h.router.POST("/transitions", h.recordTransition)
	h.router.GET("/funnel/board", h.getBoardSnapshot)
	h.router.GET("/funnel/analytics", h.getFunnelAnalytics)

	h.router.POST("/tests", h.createTest)
	h.router.GET("/tests", h.listTests)
	h.router.GET("/tests/eligible", h.listEligibleTests)
	h.router.GET("/tests/:id", h.getTest)
	h.router.PATCH("/tests/:id/status", h.updateTestStatus)
	h.router.POST("/tests/:id/variants", h.createVariant)
	h.router.GET("/tests/:id/variants", h.listVariants)
	h.router.GET("/tests/:id/analytics", h.getTestAnalytics)

	h.router.POST("/assignments", h.getOrCreateAssignment)
	h.router.POST("/events", h.trackEvent)
	h.router.POST("/events/bulk", h.trackEventsBulk)

	h.router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

// respondError maps domain validation errors to client statuses; everything
// else is a 500.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownStage),
		errors.Is(err, domain.ErrUnknownTest),
		errors.Is(err, domain.ErrUnknownVariant):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, domain.ErrTestNotActive),
		errors.Is(err, domain.ErrNoVariants),
		errors.Is(err, domain.ErrNoEligibleVariants),
		errors.Is(err, domain.ErrDuplicateStage):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error:   "conflict",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}

// healthCheck handles health check requests
// @Summary Health check
// @Description Check if the service is running
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// createStage handles POST /stages
// @Summary Register a funnel stage
// @Description Register a stage definition with a stable slug and funnel position
// @Tags funnel
// @Accept json
// @Produce json
// @Param stage body dto.CreateStageRequest true "Stage definition"
// @Success 201 {object} domain.StageDefinition
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /stages [post]
func (h *Handler) createStage(c *gin.Context) {
	var req dto.CreateStageRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid stage request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	stage, err := h.funnelService.CreateStage(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to create stage",
			zap.Error(err),
			zap.String("slug", req.Slug))
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, stage)
}

// listStages handles GET /stages
// @Summary List funnel stages
// @Description List stage definitions in funnel order
// @Tags funnel
// @Produce json
// @Success 200 {array} domain.StageDefinition
// @Failure 500 {object} dto.ErrorResponse
// @Router /stages [get]
func (h *Handler) listStages(c *gin.Context) {
	stages, err := h.funnelService.ListStages(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to list stages", zap.Error(err))
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stages)
}

// recordTransition handles POST /transitions
// @Summary Record a stage transition
// @Description Append a transition to the ledger and move the lead's current stage
// @Tags funnel
// @Accept json
// @Produce json
// @Param transition body dto.RecordTransitionRequest true "Transition data"
// @Success 200 {object} domain.Lead
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /transitions [post]
func (h *Handler) recordTransition(c *gin.Context) {
	var req dto.RecordTransitionRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid transition request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	lead, err := h.funnelService.RecordTransition(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to record transition",
			zap.Error(err),
			zap.String("lead_id", req.LeadID),
			zap.String("to_stage", req.ToStage))
		h.respondError(c, err)
		return
	}

	h.log.Info("Transition recorded",
		zap.String("lead_id", lead.ID),
		zap.String("to_stage", lead.CurrentStage))

	c.JSON(http.StatusOK, lead)
}

// getBoardSnapshot handles GET /funnel/board
// @Summary Funnel board snapshot
// @Description Leads grouped by their current funnel stage
// @Tags funnel
// @Produce json
// @Success 200 {object} dto.BoardSnapshotResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /funnel/board [get]
func (h *Handler) getBoardSnapshot(c *gin.Context) {
	snapshot, err := h.funnelService.BoardSnapshot(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to get board snapshot", zap.Error(err))
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// getFunnelAnalytics handles GET /funnel/analytics
// @Summary Funnel analytics
// @Description Per-stage counts, conversion rate, dwell time, and bottleneck flag
// @Tags funnel
// @Produce json
// @Success 200 {object} dto.FunnelAnalyticsResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /funnel/analytics [get]
func (h *Handler) getFunnelAnalytics(c *gin.Context) {
	report, err := h.funnelService.FunnelAnalytics(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to compute funnel analytics", zap.Error(err))
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FunnelAnalyticsResponse{Stages: report})
}

// createTest handles POST /tests
// @Summary Create an experiment
// @Description Create a new A/B test in draft status
// @Tags experiments
// @Accept json
// @Produce json
// @Param test body dto.CreateTestRequest true "Test definition"
// @Success 201 {object} domain.Experiment
// @Failure 400 {object} dto.ErrorResponse
// @Router /tests [post]
func (h *Handler) createTest(c *gin.Context) {
	var req dto.CreateTestRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid test request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	test, err := h.experimentService.CreateTest(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to create test", zap.Error(err), zap.String("name", req.Name))
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, test)
}

// listTests handles GET /tests
// @Summary List experiments
// @Tags experiments
// @Produce json
// @Success 200 {array} domain.Experiment
// @Failure 500 {object} dto.ErrorResponse
// @Router /tests [get]
func (h *Handler) listTests(c *gin.Context) {
	tests, err := h.experimentService.ListTests(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to list tests", zap.Error(err))
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tests)
}

// listEligibleTests handles GET /tests/eligible
// @Summary List eligible experiments
// @Description Active tests whose targeting matches the given persona and funnel stage
// @Tags experiments
// @Produce json
// @Param persona query string false "Persona snapshot"
// @Param funnel_stage query string false "Funnel stage snapshot"
// @Success 200 {array} domain.Experiment
// @Failure 500 {object} dto.ErrorResponse
// @Router /tests/eligible [get]
func (h *Handler) listEligibleTests(c *gin.Context) {
	var req dto.EligibleTestsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	tests, err := h.experimentService.ListEligibleTests(c.Request.Context(), req.Persona, req.FunnelStage)
	if err != nil {
		h.log.Error("Failed to list eligible tests", zap.Error(err))
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tests)
}

// getTest handles GET /tests/:id
// @Summary Get an experiment
// @Tags experiments
// @Produce json
// @Param id path string true "Test ID"
// @Success 200 {object} domain.Experiment
// @Failure 404 {object} dto.ErrorResponse
// @Router /tests/{id} [get]
func (h *Handler) getTest(c *gin.Context) {
	test, err := h.experimentService.GetTest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, test)
}

// updateTestStatus handles PATCH /tests/:id/status
// @Summary Update experiment status
// @Description Transition an experiment's lifecycle status; activation requires a positively weighted variant
// @Tags experiments
// @Accept json
// @Produce json
// @Param id path string true "Test ID"
// @Param status body dto.UpdateTestStatusRequest true "New status"
// @Success 200 {object} domain.Experiment
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /tests/{id}/status [patch]
func (h *Handler) updateTestStatus(c *gin.Context) {
	var req dto.UpdateTestStatusRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid status request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	test, err := h.experimentService.UpdateTestStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.log.Error("Failed to update test status",
			zap.Error(err),
			zap.String("test_id", c.Param("id")),
			zap.String("status", req.Status))
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, test)
}

// createVariant handles POST /tests/:id/variants
// @Summary Add a variant
// @Tags experiments
// @Accept json
// @Produce json
// @Param id path string true "Test ID"
// @Param variant body dto.CreateVariantRequest true "Variant definition"
// @Success 201 {object} domain.Variant
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /tests/{id}/variants [post]
func (h *Handler) createVariant(c *gin.Context) {
	var req dto.CreateVariantRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid variant request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	variant, err := h.experimentService.CreateVariant(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.log.Error("Failed to create variant",
			zap.Error(err),
			zap.String("test_id", c.Param("id")))
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, variant)
}

// listVariants handles GET /tests/:id/variants
// @Summary List variants
// @Tags experiments
// @Produce json
// @Param id path string true "Test ID"
// @Success 200 {array} domain.Variant
// @Failure 500 {object} dto.ErrorResponse
// @Router /tests/{id}/variants [get]
func (h *Handler) listVariants(c *gin.Context) {
	variants, err := h.experimentService.ListVariants(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, variants)
}

// getTestAnalytics handles GET /tests/:id/analytics
// @Summary Experiment analytics
// @Description Per-variant exposures, conversions, conversion rate, and significance vs control
// @Tags experiments
// @Produce json
// @Param id path string true "Test ID"
// @Success 200 {object} dto.TestAnalyticsResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /tests/{id}/analytics [get]
func (h *Handler) getTestAnalytics(c *gin.Context) {
	response, err := h.experimentService.TestAnalytics(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.log.Error("Failed to compute test analytics",
			zap.Error(err),
			zap.String("test_id", c.Param("id")))
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// getOrCreateAssignment handles POST /assignments
// @Summary Resolve a sticky variant assignment
// @Description Return the session's assignment for a test, creating one by weighted selection if absent
// @Tags experiments
// @Accept json
// @Produce json
// @Param assignment body dto.AssignmentRequest true "Assignment request"
// @Success 200 {object} dto.AssignmentResponse
// @Success 201 {object} dto.AssignmentResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /assignments [post]
func (h *Handler) getOrCreateAssignment(c *gin.Context) {
	var req dto.AssignmentRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid assignment request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	assignment, err := h.experimentService.GetOrCreateAssignment(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to resolve assignment",
			zap.Error(err),
			zap.String("test_id", req.TestID),
			zap.String("session_id", req.SessionID))
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if assignment.NewlyCreated {
		status = http.StatusCreated
	}
	c.JSON(status, assignment)
}

// trackEvent handles POST /events
// @Summary Track an experiment event
// @Description Validate and enqueue an exposure/conversion/custom event
// @Tags events
// @Accept json
// @Produce json
// @Param event body dto.TrackEventRequest true "Event data"
// @Success 202 {object} dto.TrackEventResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /events [post]
func (h *Handler) trackEvent(c *gin.Context) {
	var req dto.TrackEventRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid event request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	eventID, err := h.experimentService.TrackEvent(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to track event",
			zap.Error(err),
			zap.String("test_id", req.TestID),
			zap.String("variant_id", req.VariantID))
		h.respondError(c, err)
		return
	}

	h.log.Info("Event accepted",
		zap.String("event_id", eventID),
		zap.String("event_type", req.EventType))

	c.JSON(http.StatusAccepted, dto.TrackEventResponse{
		EventID: eventID,
		Status:  "accepted",
	})
}

// trackEventsBulk handles POST /events/bulk
// @Summary Track multiple experiment events
// @Tags events
// @Accept json
// @Produce json
// @Param events body dto.TrackEventsBulkRequest true "Bulk events data"
// @Success 202 {object} dto.TrackEventsBulkResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /events/bulk [post]
func (h *Handler) trackEventsBulk(c *gin.Context) {
	var bulkRequest dto.TrackEventsBulkRequest

	if err := c.ShouldBindJSON(&bulkRequest); err != nil {
		h.log.Warn("Invalid bulk event request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	eventIDs, errs, err := h.experimentService.TrackBulkEvents(c.Request.Context(), bulkRequest.Events)
	if err != nil {
		h.log.Error("Failed to track bulk events",
			zap.Error(err),
			zap.Int("event_count", len(bulkRequest.Events)))
		h.respondError(c, err)
		return
	}

	h.log.Info("Bulk events processed",
		zap.Int("accepted", len(eventIDs)),
		zap.Int("rejected", len(errs)))

	c.JSON(http.StatusAccepted, dto.TrackEventsBulkResponse{
		Accepted: len(eventIDs),
		Rejected: len(errs),
		EventIDs: eventIDs,
		Errors:   errs,
	})
}
