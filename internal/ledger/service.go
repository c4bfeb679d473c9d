package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidDelta indicates an append with a zero point delta.
	ErrInvalidDelta = errors.New("ledger: delta must be non-zero")
	// ErrInvalidUserID indicates an append or read without a user identifier.
	ErrInvalidUserID = errors.New("ledger: user id required")
	// ErrMissingReason indicates an append without an audit reason.
	ErrMissingReason = errors.New("ledger: reason required")

	errMissingDatabase = errors.New("ledger: database handle required")
)

// ServiceConfig describes the dependencies of the points ledger.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the append-only points ledger. A user's total is defined as
// the sum of their entry deltas; the cached total row is maintained inside
// the same transaction as each append.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the ledger service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// AppendRequest describes a single point credit or debit.
type AppendRequest struct {
	UserID      string
	Delta       int64
	Reason      string
	ReferenceID string
}

// Append durably records the entry and returns the user's updated total.
// Zero deltas are rejected before any side effect. Concurrent appends for
// the same user serialize through the store transaction, so no update is
// ever lost to a read-modify-write race.
func (s *Service) Append(ctx context.Context, request AppendRequest) (int64, error) {
	if strings.TrimSpace(request.UserID) == "" {
		return 0, ErrInvalidUserID
	}
	if request.Delta == 0 {
		return 0, ErrInvalidDelta
	}
	if strings.TrimSpace(request.Reason) == "" {
		return 0, ErrMissingReason
	}

	entryID, err := uuid.NewV7()
	if err != nil {
		return 0, err
	}

	var newTotal int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry := Entry{
			EntryID:          entryID.String(),
			UserID:           request.UserID,
			Delta:            request.Delta,
			Reason:           request.Reason,
			ReferenceID:      request.ReferenceID,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_points": gorm.Expr("ledger_totals.total_points + ?", request.Delta),
			}),
		}).Create(&AccountTotal{UserID: request.UserID, TotalPoints: request.Delta}).Error; err != nil {
			return err
		}

		var total AccountTotal
		if err := tx.Where("user_id = ?", request.UserID).Take(&total).Error; err != nil {
			return err
		}
		newTotal = total.TotalPoints
		return nil
	})
	if txErr != nil {
		return 0, fmt.Errorf("ledger append: %w", txErr)
	}

	s.logger.Debug("ledger entry appended",
		zap.String("user_id", request.UserID),
		zap.Int64("delta", request.Delta),
		zap.String("reason", request.Reason),
		zap.Int64("total", newTotal))
	return newTotal, nil
}

// Total returns the user's current point total. Users without entries have
// a total of zero.
func (s *Service) Total(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidUserID
	}
	var total AccountTotal
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&total).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return total.TotalPoints, nil
}

// Entries lists the user's ledger history, newest first.
func (s *Service) Entries(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUserID
	}
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at_s DESC, entry_id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Leaderboard returns the highest cached totals, descending. Only users
// with a positive total appear.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]AccountTotal, error) {
	if limit <= 0 {
		limit = 50
	}
	var totals []AccountTotal
	err := s.db.WithContext(ctx).
		Where("total_points > 0").
		Order("total_points DESC, user_id ASC").
		Limit(limit).
		Find(&totals).Error
	if err != nil {
		return nil, err
	}
	return totals, nil
}

// SumDeltas recomputes the total from first principles. Reads of the cached
// total and this sum must always agree; exposed for audit checks.
func (s *Service) SumDeltas(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidUserID
	}
	var sum *int64
	err := s.db.WithContext(ctx).
		Model(&Entry{}).
		Select("SUM(delta)").
		Where("user_id = ?", userID).
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}
