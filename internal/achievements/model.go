package achievements

// Record is a persisted achievement grant. At most one row ever exists per
// (user_id, achievement_type); the unique index is what makes awarding
// idempotent under concurrent evaluation.
type Record struct {
	AchievementID   string `gorm:"column:achievement_id;primaryKey;size:190;not null" json:"achievement_id"`
	UserID          string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_achievements_user_type,priority:1" json:"user_id"`
	AchievementType string `gorm:"column:achievement_type;size:100;not null;uniqueIndex:idx_achievements_user_type,priority:2" json:"achievement_type"`
	Title           string `gorm:"column:title;size:190;not null" json:"title"`
	Description     string `gorm:"column:description;size:320;not null" json:"description"`
	Icon            string `gorm:"column:icon;size:32;not null" json:"icon"`
	BonusPoints     int64  `gorm:"column:bonus_points;not null" json:"bonus_points"`
	EarnedAtSeconds int64  `gorm:"column:earned_at_s;not null" json:"earned_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "user_achievements"
}

// Award is one candidate achievement produced by a rule.
type Award struct {
	Type        string
	Title       string
	Description string
	Icon        string
	BonusPoints int64
}

// Event carries the context of the approved submission that triggered
// evaluation. The triggering points must already be credited to the ledger
// before the evaluator runs.
type Event struct {
	TaskID       string
	SubmissionID string
	CategoryName string
	Points       int64
}

// Snapshot is the per-evaluation view of a user's aggregate history. It is
// computed fresh for every evaluation and never persisted.
type Snapshot struct {
	CategoryName      string
	ApprovedCount     int64
	CategoryCount     int64
	TotalPoints       int64
	StreakDays        int
	ApprovedTotal     int64
	SubmissionTotal   int64
	AveragePoints     float64
	DistinctLocations int64
}

// ApprovalRate returns the percentage of submissions that were approved.
func (s Snapshot) ApprovalRate() float64 {
	if s.SubmissionTotal == 0 {
		return 0
	}
	return float64(s.ApprovedTotal) / float64(s.SubmissionTotal) * 100
}
