package tasks

import (
	"context"
	"time"

	"github.com/cityquest/backend/internal/achievements"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatsRepository answers the aggregate queries the achievement rules need
// and owns the idempotent achievement insert. It satisfies
// achievements.StatsRepository.
type StatsRepository struct {
	db *gorm.DB
}

// NewStatsRepository constructs the gorm-backed stats repository.
func NewStatsRepository(db *gorm.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// CountApproved returns the user's approved submission count.
func (r *StatsRepository) CountApproved(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Submission{}).
		Where("user_id = ? AND validation_status = ?", userID, ValidationApproved).
		Count(&count).Error
	return count, err
}

// CountApprovedInCategory returns the user's approved submissions inside
// the named category.
func (r *StatsRepository) CountApprovedInCategory(ctx context.Context, userID, category string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Submission{}).
		Joins("JOIN tasks ON tasks.task_id = task_submissions.task_id").
		Joins("JOIN task_categories ON task_categories.category_id = tasks.category_id").
		Where("task_submissions.user_id = ? AND task_submissions.validation_status = ? AND task_categories.name = ?",
			userID, ValidationApproved, category).
		Count(&count).Error
	return count, err
}

// StreakDays computes the consecutive-day run ending at the user's most
// recent approved-submission day.
func (r *StatsRepository) StreakDays(ctx context.Context, userID string) (int, error) {
	var validatedAt []int64
	err := r.db.WithContext(ctx).
		Model(&Submission{}).
		Where("user_id = ? AND validation_status = ? AND validated_at_s > 0", userID, ValidationApproved).
		Pluck("validated_at_s", &validatedAt).Error
	if err != nil {
		return 0, err
	}
	days := make([]time.Time, 0, len(validatedAt))
	for _, seconds := range validatedAt {
		days = append(days, time.Unix(seconds, 0).UTC())
	}
	return achievements.StreakLength(days), nil
}

// ApprovalStats aggregates the user's validated submissions: approvals,
// the validated total the approval rate is measured against, and the
// average points per approved submission.
func (r *StatsRepository) ApprovalStats(ctx context.Context, userID string) (achievements.ApprovalStats, error) {
	var row struct {
		Approved  int64
		Total     int64
		AvgPoints *float64
	}
	err := r.db.WithContext(ctx).
		Model(&Submission{}).
		Select(
			"COUNT(CASE WHEN validation_status = ? THEN 1 END) AS approved, "+
				"COUNT(*) AS total, "+
				"AVG(CASE WHEN validation_status = ? THEN points_awarded END) AS avg_points",
			ValidationApproved, ValidationApproved).
		Where("user_id = ? AND validation_status <> ?", userID, ValidationPending).
		Scan(&row).Error
	if err != nil {
		return achievements.ApprovalStats{}, err
	}
	stats := achievements.ApprovalStats{Approved: row.Approved, Total: row.Total}
	if row.AvgPoints != nil {
		stats.AveragePoints = *row.AvgPoints
	}
	return stats, nil
}

// CountDistinctLocations counts the distinct submission coordinates among
// the user's approved submissions, rounded to four decimal places.
func (r *StatsRepository) CountDistinctLocations(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Submission{}).
		Select("COUNT(DISTINCT ROUND(submission_lat, 4) || ',' || ROUND(submission_lng, 4))").
		Where("user_id = ? AND validation_status = ?", userID, ValidationApproved).
		Scan(&count).Error
	return count, err
}

// InsertAchievementIfAbsent inserts the record under the uniqueness
// constraint on (user_id, achievement_type) and reports whether a new row
// was created. A conflicting existing row is not an error.
func (r *StatsRepository) InsertAchievementIfAbsent(ctx context.Context, record achievements.Record) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "achievement_type"}},
			DoNothing: true,
		}).
		Create(&record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListAchievements returns the user's earned achievements, newest first.
func (r *StatsRepository) ListAchievements(ctx context.Context, userID string) ([]achievements.Record, error) {
	var records []achievements.Record
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("earned_at_s DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
