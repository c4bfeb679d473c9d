package achievements

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cityquest/backend/internal/ledger"
	"github.com/cityquest/backend/internal/realtime"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errMissingRepository = errors.New("achievements: stats repository required")
	errMissingLedger     = errors.New("achievements: points ledger required")
	errMissingUserID     = errors.New("achievements: user id required")
)

// ApprovalStats aggregates a user's submission outcomes.
type ApprovalStats struct {
	Approved      int64
	Total         int64
	AveragePoints float64
}

// StatsRepository supplies the aggregate history the rules evaluate against
// and the idempotent achievement insert. Implementations live with the
// submission store.
type StatsRepository interface {
	CountApproved(ctx context.Context, userID string) (int64, error)
	CountApprovedInCategory(ctx context.Context, userID, category string) (int64, error)
	StreakDays(ctx context.Context, userID string) (int, error)
	ApprovalStats(ctx context.Context, userID string) (ApprovalStats, error)
	CountDistinctLocations(ctx context.Context, userID string) (int64, error)
	// InsertAchievementIfAbsent attempts the insert under the
	// (user_id, achievement_type) uniqueness constraint and reports whether
	// a new row was created. An existing row is not an error.
	InsertAchievementIfAbsent(ctx context.Context, record Record) (bool, error)
}

// PointsLedger is the slice of the ledger the evaluator needs: reading the
// current total and crediting achievement bonuses.
type PointsLedger interface {
	Append(ctx context.Context, request ledger.AppendRequest) (int64, error)
	Total(ctx context.Context, userID string) (int64, error)
}

// EventSink receives the notification events produced by awards.
type EventSink interface {
	Dispatch(event realtime.Event)
}

// EvaluatorConfig describes the evaluator's collaborators.
type EvaluatorConfig struct {
	Repository StatsRepository
	Ledger     PointsLedger
	Events     EventSink
	Rules      []Rule
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Evaluator runs the rule registry against a fresh snapshot of the user's
// history and awards whatever newly qualifies. Awarding is idempotent: the
// uniqueness constraint on (user, type) carries the guarantee, so rules are
// free to run concurrently and to re-propose held achievements.
type Evaluator struct {
	repository StatsRepository
	ledger     PointsLedger
	events     EventSink
	rules      []Rule
	clock      func() time.Time
	logger     *zap.Logger
}

// NewEvaluator constructs the evaluator.
func NewEvaluator(cfg EvaluatorConfig) (*Evaluator, error) {
	if cfg.Repository == nil {
		return nil, errMissingRepository
	}
	if cfg.Ledger == nil {
		return nil, errMissingLedger
	}
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		repository: cfg.Repository,
		ledger:     cfg.Ledger,
		events:     cfg.Events,
		rules:      rules,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Evaluate processes one approved-submission event for the user. The
// triggering points must already be in the ledger. Errors are reported to
// the caller but the triggering approval is never rolled back by them.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, event Event) error {
	if userID == "" {
		return errMissingUserID
	}

	snapshot, err := e.snapshot(ctx, userID, event.CategoryName)
	if err != nil {
		return fmt.Errorf("achievements: snapshot for %s: %w", userID, err)
	}

	var (
		mu       sync.Mutex
		failures []error
		wg       sync.WaitGroup
	)
	for _, rule := range e.rules {
		wg.Add(1)
		go func(rule Rule) {
			defer wg.Done()
			for _, award := range rule.Evaluate(snapshot) {
				if err := e.grant(ctx, userID, award); err != nil {
					mu.Lock()
					failures = append(failures, fmt.Errorf("rule %s: %w", rule.Name(), err))
					mu.Unlock()
				}
			}
		}(rule)
	}
	wg.Wait()

	return errors.Join(failures...)
}

func (e *Evaluator) snapshot(ctx context.Context, userID, category string) (Snapshot, error) {
	approved, err := e.repository.CountApproved(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	categoryCount := int64(0)
	if category != "" {
		categoryCount, err = e.repository.CountApprovedInCategory(ctx, userID, category)
		if err != nil {
			return Snapshot{}, err
		}
	}
	totalPoints, err := e.ledger.Total(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	streak, err := e.repository.StreakDays(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	stats, err := e.repository.ApprovalStats(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	locations, err := e.repository.CountDistinctLocations(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		CategoryName:      category,
		ApprovedCount:     approved,
		CategoryCount:     categoryCount,
		TotalPoints:       totalPoints,
		StreakDays:        streak,
		ApprovedTotal:     stats.Approved,
		SubmissionTotal:   stats.Total,
		AveragePoints:     stats.AveragePoints,
		DistinctLocations: locations,
	}, nil
}

// grant attempts one award. A rejected insert means the achievement is
// already held and is a silent no-op; a successful insert credits the bonus
// as a separate ledger entry referencing the achievement and publishes the
// unlock events.
func (e *Evaluator) grant(ctx context.Context, userID string, award Award) error {
	achievementID, err := uuid.NewV7()
	if err != nil {
		return err
	}
	record := Record{
		AchievementID:   achievementID.String(),
		UserID:          userID,
		AchievementType: award.Type,
		Title:           award.Title,
		Description:     award.Description,
		Icon:            award.Icon,
		BonusPoints:     award.BonusPoints,
		EarnedAtSeconds: e.clock().UTC().Unix(),
	}

	inserted, err := e.repository.InsertAchievementIfAbsent(ctx, record)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	if _, err := e.ledger.Append(ctx, ledger.AppendRequest{
		UserID:      userID,
		Delta:       award.BonusPoints,
		Reason:      fmt.Sprintf("Achievement: %s", award.Title),
		ReferenceID: record.AchievementID,
	}); err != nil {
		return fmt.Errorf("bonus credit for %s: %w", award.Type, err)
	}

	e.logger.Info("achievement awarded",
		zap.String("user_id", userID),
		zap.String("achievement_type", award.Type),
		zap.Int64("bonus_points", award.BonusPoints))

	if e.events != nil {
		e.events.Dispatch(realtime.Event{
			Kind:   realtime.EventAchievementUnlocked,
			Target: realtime.ToUser(userID),
			Payload: realtime.AchievementUnlockedPayload{
				AchievementType: award.Type,
				Title:           award.Title,
				Description:     award.Description,
				Icon:            award.Icon,
				PointsAwarded:   award.BonusPoints,
				Message:         fmt.Sprintf("🎉 Achievement Unlocked: %s! You earned %d bonus points!", award.Title, award.BonusPoints),
			},
		})
		e.events.Dispatch(realtime.Event{
			Kind:   realtime.EventAdminNotification,
			Target: realtime.ToAdmins(),
			Payload: realtime.AdminNotificationPayload{
				Type:    "achievement_unlocked",
				Message: fmt.Sprintf("User unlocked achievement: %s", award.Title),
				Data:    record,
			},
		})
	}
	return nil
}
