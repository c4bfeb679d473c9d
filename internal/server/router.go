package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cityquest/backend/internal/auth"
	"github.com/cityquest/backend/internal/geo"
	"github.com/cityquest/backend/internal/ledger"
	"github.com/cityquest/backend/internal/realtime"
	"github.com/cityquest/backend/internal/tasks"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "cityquest_user_id"
	adminContextKey  = "cityquest_admin"
)

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingTaskService  = errors.New("task service dependency required")
	errMissingLedger       = errors.New("ledger dependency required")
	errMissingStats        = errors.New("stats repository dependency required")
	errMissingHub          = errors.New("connection hub dependency required")
	errMissingCells        = errors.New("cell index dependency required")
	errMissingEvents       = errors.New("event router dependency required")
)

// AccessTokenValidator authenticates bearer tokens on HTTP and websocket
// requests.
type AccessTokenValidator interface {
	ValidateToken(token string) (auth.Identity, error)
}

// Dependencies wires the HTTP surface to the services behind it.
type Dependencies struct {
	TokenManager AccessTokenValidator
	TaskService  *tasks.Service
	Ledger       *ledger.Service
	Stats        *tasks.StatsRepository
	Hub          *realtime.Hub
	Cells        *geo.BucketIndex
	Events       *realtime.Router
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router serving the REST API and the
// websocket endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.TaskService == nil {
		return nil, errMissingTaskService
	}
	if deps.Ledger == nil {
		return nil, errMissingLedger
	}
	if deps.Stats == nil {
		return nil, errMissingStats
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}
	if deps.Cells == nil {
		return nil, errMissingCells
	}
	if deps.Events == nil {
		return nil, errMissingEvents
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens: deps.TokenManager,
		tasks:  deps.TaskService,
		ledger: deps.Ledger,
		stats:  deps.Stats,
		hub:    deps.Hub,
		cells:  deps.Cells,
		events: deps.Events,
		logger: logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/ws", handler.handleWebsocket)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/tasks", handler.handleListTasks)
	protected.GET("/tasks/nearby", handler.handleNearbyTasks)
	protected.GET("/tasks/:id", handler.handleGetTask)
	protected.POST("/tasks/:id/submissions", handler.handleSubmit)
	protected.GET("/submissions", handler.handleListSubmissions)
	protected.GET("/achievements", handler.handleListAchievements)
	protected.GET("/points", handler.handlePointsTotal)
	protected.GET("/points/history", handler.handlePointsHistory)
	protected.GET("/leaderboard", handler.handleLeaderboard)

	admin := protected.Group("/")
	admin.Use(handler.requireAdmin)
	admin.POST("/categories", handler.handleCreateCategory)
	admin.POST("/tasks", handler.handleCreateTask)
	admin.POST("/submissions/:id/approve", handler.handleApprove)
	admin.POST("/submissions/:id/reject", handler.handleReject)

	return router, nil
}

type httpHandler struct {
	tokens AccessTokenValidator
	tasks  *tasks.Service
	ledger *ledger.Service
	stats  *tasks.StatsRepository
	hub    *realtime.Hub
	cells  *geo.BucketIndex
	events *realtime.Router
	logger *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		// Expired tokens are routine; anything else is worth a warning.
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, identity.UserID)
	c.Set(adminContextKey, identity.Admin)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	if !c.GetBool(adminContextKey) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

type categoryRequestPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

func (h *httpHandler) handleCreateCategory(c *gin.Context) {
	var request categoryRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	category, err := h.tasks.CreateCategory(c.Request.Context(), tasks.CreateCategoryRequest{
		Name:        request.Name,
		Description: request.Description,
		Icon:        request.Icon,
	})
	if errors.Is(err, tasks.ErrInvalidTask) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err != nil {
		h.logger.Error("failed to create category", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "category_create_failed"})
		return
	}
	c.JSON(http.StatusCreated, category)
}

type taskRequestPayload struct {
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	CategoryID       string  `json:"category_id"`
	Lat              float64 `json:"location_lat"`
	Lng              float64 `json:"location_lng"`
	RadiusMeters     int64   `json:"location_radius"`
	PointsValue      int64   `json:"points_value"`
	DifficultyLevel  int     `json:"difficulty_level"`
	ExpiresAtSeconds int64   `json:"expires_at_s"`
}

func (h *httpHandler) handleCreateTask(c *gin.Context) {
	var request taskRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	task, err := h.tasks.CreateTask(c.Request.Context(), c.GetString(userIDContextKey), tasks.CreateTaskRequest{
		Title:            request.Title,
		Description:      request.Description,
		CategoryID:       request.CategoryID,
		Lat:              request.Lat,
		Lng:              request.Lng,
		RadiusMeters:     request.RadiusMeters,
		PointsValue:      request.PointsValue,
		DifficultyLevel:  request.DifficultyLevel,
		ExpiresAtSeconds: request.ExpiresAtSeconds,
	})
	switch {
	case errors.Is(err, tasks.ErrInvalidTask) || errors.Is(err, geo.ErrMalformedLocation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, tasks.ErrCategoryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "category_not_found"})
	case err != nil:
		h.logger.Error("failed to create task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "task_create_failed"})
	default:
		c.JSON(http.StatusCreated, task)
	}
}

func (h *httpHandler) handleListTasks(c *gin.Context) {
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)
	result, err := h.tasks.ListTasks(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list tasks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "task_list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": result})
}

type nearbyTaskPayload struct {
	Task           tasks.Task `json:"task"`
	DistanceMeters float64    `json:"distance_m"`
}

func (h *httpHandler) handleNearbyTasks(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
	if latErr != nil || lngErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_coordinates"})
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius", "1000"), 64)
	if err != nil || radius <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_radius"})
		return
	}
	limit := intQuery(c, "limit", 20)

	results, err := h.tasks.Nearby(c.Request.Context(), lat, lng, radius, limit)
	if errors.Is(err, geo.ErrMalformedLocation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_coordinates"})
		return
	}
	if err != nil {
		h.logger.Error("failed to search nearby tasks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "nearby_failed"})
		return
	}
	payload := make([]nearbyTaskPayload, 0, len(results))
	for _, result := range results {
		payload = append(payload, nearbyTaskPayload{Task: result.Task, DistanceMeters: result.DistanceMeters})
	}
	c.JSON(http.StatusOK, gin.H{"tasks": payload})
}

func (h *httpHandler) handleGetTask(c *gin.Context) {
	task, err := h.tasks.GetTask(c.Request.Context(), c.Param("id"))
	if errors.Is(err, tasks.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "task_load_failed"})
		return
	}
	c.JSON(http.StatusOK, task)
}

type submitRequestPayload struct {
	Lat float64 `json:"submission_lat"`
	Lng float64 `json:"submission_lng"`
}

func (h *httpHandler) handleSubmit(c *gin.Context) {
	var request submitRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	submission, err := h.tasks.Submit(c.Request.Context(), c.GetString(userIDContextKey), tasks.SubmitRequest{
		TaskID: c.Param("id"),
		Lat:    request.Lat,
		Lng:    request.Lng,
	})
	switch {
	case errors.Is(err, geo.ErrMalformedLocation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_coordinates"})
	case errors.Is(err, tasks.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task_not_found"})
	case errors.Is(err, tasks.ErrDuplicateSubmission):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_submission"})
	case err != nil:
		h.logger.Error("failed to store submission", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submission_failed"})
	default:
		c.JSON(http.StatusCreated, submission)
	}
}

func (h *httpHandler) handleListSubmissions(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	submissions, err := h.tasks.Submissions(c.Request.Context(), c.GetString(userIDContextKey), limit)
	if err != nil {
		h.logger.Error("failed to list submissions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submission_list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": submissions})
}

type validationRequestPayload struct {
	Notes          string `json:"validation_notes"`
	PointsOverride int64  `json:"points_override"`
}

func (h *httpHandler) handleApprove(c *gin.Context) {
	var request validationRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		request = validationRequestPayload{}
	}
	result, err := h.tasks.Approve(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"), request.Notes, request.PointsOverride)
	switch {
	case errors.Is(err, tasks.ErrSubmissionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "submission_not_found"})
	case errors.Is(err, tasks.ErrAlreadyValidated):
		c.JSON(http.StatusConflict, gin.H{"error": "already_validated"})
	case err != nil:
		h.logger.Error("failed to approve submission", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "approval_failed"})
	default:
		c.JSON(http.StatusOK, gin.H{
			"submission_id":  result.SubmissionID,
			"points_awarded": result.PointsAwarded,
			"total_points":   result.NewTotal,
		})
	}
}

func (h *httpHandler) handleReject(c *gin.Context) {
	var request validationRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		request = validationRequestPayload{}
	}
	err := h.tasks.Reject(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"), request.Notes)
	switch {
	case errors.Is(err, tasks.ErrMissingNotes):
		c.JSON(http.StatusBadRequest, gin.H{"error": "notes_required"})
	case errors.Is(err, tasks.ErrSubmissionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "submission_not_found"})
	case errors.Is(err, tasks.ErrAlreadyValidated):
		c.JSON(http.StatusConflict, gin.H{"error": "already_validated"})
	case err != nil:
		h.logger.Error("failed to reject submission", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rejection_failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"submission_id": c.Param("id"), "validation_status": "rejected"})
	}
}

func (h *httpHandler) handleListAchievements(c *gin.Context) {
	records, err := h.stats.ListAchievements(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("failed to list achievements", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "achievement_list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"achievements": records})
}

func (h *httpHandler) handlePointsTotal(c *gin.Context) {
	total, err := h.ledger.Total(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("failed to read points total", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "points_total_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_points": total})
}

func (h *httpHandler) handlePointsHistory(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	entries, err := h.ledger.Entries(c.Request.Context(), c.GetString(userIDContextKey), limit)
	if err != nil {
		h.logger.Error("failed to read points history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "points_history_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	totals, err := h.ledger.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to read leaderboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "leaderboard_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": totals})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
