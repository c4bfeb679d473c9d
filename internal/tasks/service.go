package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/cityquest/backend/internal/achievements"
	"github.com/cityquest/backend/internal/geo"
	"github.com/cityquest/backend/internal/ledger"
	"github.com/cityquest/backend/internal/realtime"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrTaskNotFound indicates an unknown or inactive task.
	ErrTaskNotFound = errors.New("tasks: task not found or not active")
	// ErrCategoryNotFound indicates a task referencing an unknown category.
	ErrCategoryNotFound = errors.New("tasks: category not found")
	// ErrDuplicateSubmission indicates the user already submitted this task.
	ErrDuplicateSubmission = errors.New("tasks: task already submitted")
	// ErrSubmissionNotFound indicates an unknown submission.
	ErrSubmissionNotFound = errors.New("tasks: submission not found")
	// ErrAlreadyValidated indicates the submission left the pending state.
	ErrAlreadyValidated = errors.New("tasks: submission already validated")
	// ErrMissingNotes indicates a rejection without a reason.
	ErrMissingNotes = errors.New("tasks: rejection notes required")
	// ErrInvalidTask indicates a create request with missing required fields.
	ErrInvalidTask = errors.New("tasks: invalid task")

	errMissingDatabase = errors.New("tasks: database handle required")
	errMissingLedger   = errors.New("tasks: points ledger required")
)

const earthRadiusMeters = 6371000.0

// EventSink receives the notification events the task flow produces.
type EventSink interface {
	Dispatch(event realtime.Event)
}

// AchievementQueue accepts achievement evaluations for asynchronous
// processing after an approval.
type AchievementQueue interface {
	Enqueue(userID string, event achievements.Event)
}

// ServiceConfig describes the task service's collaborators.
type ServiceConfig struct {
	Database     *gorm.DB
	Ledger       *ledger.Service
	Achievements AchievementQueue
	Events       EventSink
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Service owns tasks and submissions and drives the reward engine: an
// approval credits the ledger first, then hands the event to the
// achievement queue, then notifies the submitter. Achievement and
// notification failures never unwind an approval.
type Service struct {
	db           *gorm.DB
	ledger       *ledger.Service
	achievements AchievementQueue
	events       EventSink
	clock        func() time.Time
	logger       *zap.Logger
}

// NewService constructs the task service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Ledger == nil {
		return nil, errMissingLedger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:           cfg.Database,
		ledger:       cfg.Ledger,
		achievements: cfg.Achievements,
		events:       cfg.Events,
		clock:        clock,
		logger:       logger,
	}, nil
}

// CreateCategoryRequest describes a new task category.
type CreateCategoryRequest struct {
	Name        string
	Description string
	Icon        string
}

// CreateCategory stores a category for grouping tasks.
func (s *Service) CreateCategory(ctx context.Context, request CreateCategoryRequest) (Category, error) {
	if strings.TrimSpace(request.Name) == "" {
		return Category{}, fmt.Errorf("%w: category name required", ErrInvalidTask)
	}
	categoryID, err := uuid.NewV7()
	if err != nil {
		return Category{}, err
	}
	category := Category{
		CategoryID:       categoryID.String(),
		Name:             strings.TrimSpace(request.Name),
		Description:      strings.TrimSpace(request.Description),
		Icon:             request.Icon,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&category).Error; err != nil {
		return Category{}, err
	}
	return category, nil
}

// CreateTaskRequest describes a new location-bound task.
type CreateTaskRequest struct {
	Title            string
	Description      string
	CategoryID       string
	Lat              float64
	Lng              float64
	RadiusMeters     int64
	PointsValue      int64
	DifficultyLevel  int
	ExpiresAtSeconds int64
}

// CreateTask stores the task and announces it to live subscribers in its
// cell plus the admin room.
func (s *Service) CreateTask(ctx context.Context, creatorID string, request CreateTaskRequest) (Task, error) {
	if strings.TrimSpace(request.Title) == "" || strings.TrimSpace(request.Description) == "" {
		return Task{}, fmt.Errorf("%w: title and description required", ErrInvalidTask)
	}
	if request.PointsValue <= 0 {
		return Task{}, fmt.Errorf("%w: points value must be positive", ErrInvalidTask)
	}
	if err := geo.ValidateCoordinates(request.Lat, request.Lng); err != nil {
		return Task{}, err
	}

	var category Category
	err := s.db.WithContext(ctx).Where("category_id = ?", request.CategoryID).Take(&category).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Task{}, ErrCategoryNotFound
	}
	if err != nil {
		return Task{}, err
	}

	taskID, err := uuid.NewV7()
	if err != nil {
		return Task{}, err
	}
	radius := request.RadiusMeters
	if radius <= 0 {
		radius = 100
	}
	difficulty := request.DifficultyLevel
	if difficulty <= 0 {
		difficulty = 1
	}
	task := Task{
		TaskID:           taskID.String(),
		Title:            strings.TrimSpace(request.Title),
		Description:      strings.TrimSpace(request.Description),
		CategoryID:       category.CategoryID,
		Lat:              request.Lat,
		Lng:              request.Lng,
		RadiusMeters:     radius,
		PointsValue:      request.PointsValue,
		DifficultyLevel:  difficulty,
		Status:           TaskStatusActive,
		CreatedBy:        creatorID,
		CreatedAtSeconds: s.clock().UTC().Unix(),
		ExpiresAtSeconds: request.ExpiresAtSeconds,
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return Task{}, err
	}

	s.dispatch(realtime.Event{
		Kind:   realtime.EventNewTaskNearby,
		Target: realtime.ToCell(task.Lat, task.Lng),
		Payload: realtime.NewTaskNearbyPayload{
			TaskID:       task.TaskID,
			Title:        task.Title,
			PointsValue:  task.PointsValue,
			CategoryName: category.Name,
			DistanceText: "near your location",
			Message:      fmt.Sprintf("New %s task available!", strings.ToLower(category.Name)),
		},
	})
	s.dispatch(realtime.Event{
		Kind:   realtime.EventAdminNotification,
		Target: realtime.ToAdmins(),
		Payload: realtime.AdminNotificationPayload{
			Type:    "task_created",
			Message: fmt.Sprintf("New task created: %s", task.TaskID),
			Data:    task,
		},
	})
	return task, nil
}

// GetTask loads one task.
func (s *Service) GetTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Task{}, ErrTaskNotFound
	}
	return task, err
}

// ListTasks returns active tasks, newest first.
func (s *Service) ListTasks(ctx context.Context, limit, offset int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	var result []Task
	err := s.db.WithContext(ctx).
		Where("status = ? AND (expires_at_s = 0 OR expires_at_s > ?)", TaskStatusActive, s.clock().UTC().Unix()).
		Order("created_at_s DESC").
		Limit(limit).
		Offset(offset).
		Find(&result).Error
	return result, err
}

// SubmitRequest describes a user's attempt at a task.
type SubmitRequest struct {
	TaskID string
	Lat    float64
	Lng    float64
}

// Submit stores a pending submission and acknowledges it over the live
// transport. One submission per task per user.
func (s *Service) Submit(ctx context.Context, userID string, request SubmitRequest) (Submission, error) {
	if err := geo.ValidateCoordinates(request.Lat, request.Lng); err != nil {
		return Submission{}, err
	}

	now := s.clock().UTC().Unix()
	var task Task
	err := s.db.WithContext(ctx).
		Where("task_id = ? AND status = ? AND (expires_at_s = 0 OR expires_at_s > ?)",
			request.TaskID, TaskStatusActive, now).
		Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Submission{}, ErrTaskNotFound
	}
	if err != nil {
		return Submission{}, err
	}

	var existing int64
	if err := s.db.WithContext(ctx).
		Model(&Submission{}).
		Where("task_id = ? AND user_id = ?", task.TaskID, userID).
		Count(&existing).Error; err != nil {
		return Submission{}, err
	}
	if existing > 0 {
		return Submission{}, ErrDuplicateSubmission
	}

	submissionID, err := uuid.NewV7()
	if err != nil {
		return Submission{}, err
	}
	submission := Submission{
		SubmissionID:       submissionID.String(),
		TaskID:             task.TaskID,
		UserID:             userID,
		Lat:                request.Lat,
		Lng:                request.Lng,
		SubmittedAtSeconds: now,
		ValidationStatus:   ValidationPending,
	}
	if err := s.db.WithContext(ctx).Create(&submission).Error; err != nil {
		return Submission{}, err
	}

	s.dispatch(realtime.Event{
		Kind:   realtime.EventSubmissionConfirmed,
		Target: realtime.ToUser(userID),
		Payload: realtime.SubmissionConfirmedPayload{
			TaskID:       task.TaskID,
			SubmissionID: submission.SubmissionID,
			Message:      "Your task submission has been received and is pending validation.",
		},
	})
	s.dispatch(realtime.Event{
		Kind:   realtime.EventAdminNotification,
		Target: realtime.ToAdmins(),
		Payload: realtime.AdminNotificationPayload{
			Type:    "task_submitted",
			Message: fmt.Sprintf("New task submission requires validation: %s", submission.SubmissionID),
			Data:    submission,
		},
	})
	return submission, nil
}

// ApprovalResult reports the outcome of an approval.
type ApprovalResult struct {
	SubmissionID  string
	PointsAwarded int64
	NewTotal      int64
}

// Approve transitions a pending submission to approved, credits the task
// points to the submitter's ledger, and queues achievement evaluation. The
// points credit is the primary effect; rule processing and notifications
// are auxiliary and cannot fail the approval.
func (s *Service) Approve(ctx context.Context, validatorID, submissionID, notes string, pointsOverride int64) (ApprovalResult, error) {
	submission, task, err := s.pendingSubmission(ctx, submissionID)
	if err != nil {
		return ApprovalResult{}, err
	}

	points := pointsOverride
	if points <= 0 {
		points = task.PointsValue
	}
	now := s.clock().UTC().Unix()

	updated := s.db.WithContext(ctx).
		Model(&Submission{}).
		Where("submission_id = ? AND validation_status = ?", submissionID, ValidationPending).
		Updates(map[string]interface{}{
			"validation_status": ValidationApproved,
			"validation_notes":  notes,
			"points_awarded":    points,
			"validated_by":      validatorID,
			"validated_at_s":    now,
		})
	if updated.Error != nil {
		return ApprovalResult{}, updated.Error
	}
	if updated.RowsAffected == 0 {
		return ApprovalResult{}, ErrAlreadyValidated
	}

	newTotal, err := s.ledger.Append(ctx, ledger.AppendRequest{
		UserID:      submission.UserID,
		Delta:       points,
		Reason:      fmt.Sprintf("Task completed: %s", task.TaskID),
		ReferenceID: submissionID,
	})
	if err != nil {
		// The approval is committed; surface the credit failure rather
		// than inventing a rollback for an append-only ledger.
		return ApprovalResult{}, fmt.Errorf("tasks: credit for %s: %w", submissionID, err)
	}

	var category Category
	if err := s.db.WithContext(ctx).Where("category_id = ?", task.CategoryID).Take(&category).Error; err != nil {
		s.logger.Warn("category lookup failed for achievement context",
			zap.String("task_id", task.TaskID), zap.Error(err))
	}
	if s.achievements != nil {
		s.achievements.Enqueue(submission.UserID, achievements.Event{
			TaskID:       task.TaskID,
			SubmissionID: submissionID,
			CategoryName: category.Name,
			Points:       points,
		})
	}

	s.dispatch(realtime.Event{
		Kind:   realtime.EventTaskValidated,
		Target: realtime.ToUser(submission.UserID),
		Payload: realtime.TaskValidatedPayload{
			TaskID:           task.TaskID,
			SubmissionID:     submissionID,
			ValidationStatus: string(ValidationApproved),
			PointsAwarded:    points,
			ValidationNotes:  notes,
			Message:          fmt.Sprintf("Congratulations! Your task was approved and you earned %d points!", points),
		},
	})
	s.dispatch(realtime.Event{
		Kind:   realtime.EventAdminNotification,
		Target: realtime.ToAdmins(),
		Payload: realtime.AdminNotificationPayload{
			Type:    "task_validated",
			Message: fmt.Sprintf("Task submission %s has been approved", submissionID),
		},
	})

	s.logger.Info("submission approved",
		zap.String("submission_id", submissionID),
		zap.String("user_id", submission.UserID),
		zap.Int64("points", points))
	return ApprovalResult{SubmissionID: submissionID, PointsAwarded: points, NewTotal: newTotal}, nil
}

// Reject transitions a pending submission to rejected. A reason is
// required; no points change hands.
func (s *Service) Reject(ctx context.Context, validatorID, submissionID, notes string) error {
	if strings.TrimSpace(notes) == "" {
		return ErrMissingNotes
	}
	submission, task, err := s.pendingSubmission(ctx, submissionID)
	if err != nil {
		return err
	}

	updated := s.db.WithContext(ctx).
		Model(&Submission{}).
		Where("submission_id = ? AND validation_status = ?", submissionID, ValidationPending).
		Updates(map[string]interface{}{
			"validation_status": ValidationRejected,
			"validation_notes":  notes,
			"validated_by":      validatorID,
			"validated_at_s":    s.clock().UTC().Unix(),
		})
	if updated.Error != nil {
		return updated.Error
	}
	if updated.RowsAffected == 0 {
		return ErrAlreadyValidated
	}

	s.dispatch(realtime.Event{
		Kind:   realtime.EventTaskValidated,
		Target: realtime.ToUser(submission.UserID),
		Payload: realtime.TaskValidatedPayload{
			TaskID:           task.TaskID,
			SubmissionID:     submissionID,
			ValidationStatus: string(ValidationRejected),
			ValidationNotes:  notes,
			Message:          fmt.Sprintf("Your task was rejected. %s", notes),
		},
	})
	return nil
}

// Submissions lists a user's submissions, newest first.
func (s *Service) Submissions(ctx context.Context, userID string, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 20
	}
	var result []Submission
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("submitted_at_s DESC").
		Limit(limit).
		Find(&result).Error
	return result, err
}

// NearbyTask pairs a task with its true distance from the query point.
type NearbyTask struct {
	Task           Task
	DistanceMeters float64
}

// Nearby performs a true radius search over stored tasks. This is the
// precise read path for listings; live "task near you" alerts use the
// coarser cell index instead.
func (s *Service) Nearby(ctx context.Context, lat, lng float64, radiusMeters float64, limit int) ([]NearbyTask, error) {
	if err := geo.ValidateCoordinates(lat, lng); err != nil {
		return nil, err
	}
	if radiusMeters <= 0 {
		radiusMeters = 1000
	}
	if limit <= 0 {
		limit = 20
	}

	// Bounding-box prefilter; exact haversine distance decides inclusion.
	latDelta := radiusMeters / 111320.0
	lngDelta := radiusMeters / (111320.0 * math.Max(math.Cos(lat*math.Pi/180), 0.01))

	var candidates []Task
	err := s.db.WithContext(ctx).
		Where("status = ? AND (expires_at_s = 0 OR expires_at_s > ?)", TaskStatusActive, s.clock().UTC().Unix()).
		Where("location_lat BETWEEN ? AND ?", lat-latDelta, lat+latDelta).
		Where("location_lng BETWEEN ? AND ?", lng-lngDelta, lng+lngDelta).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	nearby := make([]NearbyTask, 0, len(candidates))
	for _, task := range candidates {
		distance := haversineMeters(lat, lng, task.Lat, task.Lng)
		if distance <= radiusMeters {
			nearby = append(nearby, NearbyTask{Task: task, DistanceMeters: distance})
		}
	}
	sort.Slice(nearby, func(i, j int) bool {
		if nearby[i].DistanceMeters != nearby[j].DistanceMeters {
			return nearby[i].DistanceMeters < nearby[j].DistanceMeters
		}
		return nearby[i].Task.PointsValue > nearby[j].Task.PointsValue
	})
	if len(nearby) > limit {
		nearby = nearby[:limit]
	}
	return nearby, nil
}

func (s *Service) pendingSubmission(ctx context.Context, submissionID string) (Submission, Task, error) {
	var submission Submission
	err := s.db.WithContext(ctx).Where("submission_id = ?", submissionID).Take(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Submission{}, Task{}, ErrSubmissionNotFound
	}
	if err != nil {
		return Submission{}, Task{}, err
	}
	if submission.ValidationStatus != ValidationPending {
		return Submission{}, Task{}, ErrAlreadyValidated
	}
	var task Task
	if err := s.db.WithContext(ctx).Where("task_id = ?", submission.TaskID).Take(&task).Error; err != nil {
		return Submission{}, Task{}, err
	}
	return submission, task, nil
}

func (s *Service) dispatch(event realtime.Event) {
	if s.events != nil {
		s.events.Dispatch(event)
	}
}

func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	toRadians := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
