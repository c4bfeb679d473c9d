package tasks

// TaskStatus enumerates the lifecycle states of a task.
type TaskStatus string

const (
	TaskStatusActive  TaskStatus = "active"
	TaskStatusPaused  TaskStatus = "paused"
	TaskStatusExpired TaskStatus = "expired"
)

// ValidationStatus enumerates the review states of a submission.
type ValidationStatus string

const (
	ValidationPending  ValidationStatus = "pending"
	ValidationApproved ValidationStatus = "approved"
	ValidationRejected ValidationStatus = "rejected"
)

// Category groups tasks for discovery and for the category-mastery rules.
type Category struct {
	CategoryID       string `gorm:"column:category_id;primaryKey;size:190;not null" json:"category_id"`
	Name             string `gorm:"column:name;size:100;not null;uniqueIndex" json:"name"`
	Description      string `gorm:"column:description;size:320" json:"description"`
	Icon             string `gorm:"column:icon;size:32" json:"icon"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null" json:"created_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Category) TableName() string {
	return "task_categories"
}

// Task is a location-bound unit of work worth a fixed number of points.
type Task struct {
	TaskID           string     `gorm:"column:task_id;primaryKey;size:190;not null" json:"task_id"`
	Title            string     `gorm:"column:title;size:200;not null" json:"title"`
	Description      string     `gorm:"column:description;type:text;not null" json:"description"`
	CategoryID       string     `gorm:"column:category_id;size:190;not null;index" json:"category_id"`
	Lat              float64    `gorm:"column:location_lat;not null" json:"location_lat"`
	Lng              float64    `gorm:"column:location_lng;not null" json:"location_lng"`
	RadiusMeters     int64      `gorm:"column:location_radius;not null;default:100" json:"location_radius"`
	PointsValue      int64      `gorm:"column:points_value;not null" json:"points_value"`
	DifficultyLevel  int        `gorm:"column:difficulty_level;not null;default:1" json:"difficulty_level"`
	Status           TaskStatus `gorm:"column:status;size:20;not null;default:active;index" json:"status"`
	CreatedBy        string     `gorm:"column:created_by;size:190;not null" json:"created_by"`
	CreatedAtSeconds int64      `gorm:"column:created_at_s;not null" json:"created_at_s"`
	ExpiresAtSeconds int64      `gorm:"column:expires_at_s;not null;default:0" json:"expires_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Task) TableName() string {
	return "tasks"
}

// Submission records one user's attempt at a task. The unique index
// enforces one submission per task per user.
type Submission struct {
	SubmissionID       string           `gorm:"column:submission_id;primaryKey;size:190;not null" json:"submission_id"`
	TaskID             string           `gorm:"column:task_id;size:190;not null;uniqueIndex:idx_submissions_task_user,priority:1" json:"task_id"`
	UserID             string           `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_submissions_task_user,priority:2;index:idx_submissions_user_status,priority:1" json:"user_id"`
	Lat                float64          `gorm:"column:submission_lat;not null" json:"submission_lat"`
	Lng                float64          `gorm:"column:submission_lng;not null" json:"submission_lng"`
	SubmittedAtSeconds int64            `gorm:"column:submitted_at_s;not null" json:"submitted_at_s"`
	ValidationStatus   ValidationStatus `gorm:"column:validation_status;size:20;not null;default:pending;index:idx_submissions_user_status,priority:2" json:"validation_status"`
	ValidationNotes    string           `gorm:"column:validation_notes;type:text" json:"validation_notes"`
	ValidatedBy        string           `gorm:"column:validated_by;size:190" json:"validated_by"`
	ValidatedAtSeconds int64            `gorm:"column:validated_at_s;not null;default:0" json:"validated_at_s"`
	PointsAwarded      int64            `gorm:"column:points_awarded;not null;default:0" json:"points_awarded"`
}

// TableName provides the explicit table binding for GORM.
func (Submission) TableName() string {
	return "task_submissions"
}
