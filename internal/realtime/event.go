package realtime

// Event kinds pushed to clients. The kind strings and payload shapes are
// the wire contract and must not change.
const (
	EventNewTaskNearby       = "new_task_nearby"
	EventSubmissionConfirmed = "submission_confirmed"
	EventTaskValidated       = "task_validated"
	EventAchievementUnlocked = "achievement_unlocked"
	EventAdminNotification   = "admin_notification"
	EventLocationJoined      = "location_joined"
)

// TargetScope selects the set of connections an event fans out to.
type TargetScope int

const (
	// TargetUser delivers to every live connection of one user.
	TargetUser TargetScope = iota
	// TargetAdmins delivers to every connected administrator.
	TargetAdmins
	// TargetCell delivers to subscribers of the cell containing a coordinate.
	TargetCell
	// TargetConnection delivers to one connection only, for acknowledgements
	// that must not reach a user's other open sockets.
	TargetConnection
)

// Target addresses an event. Exactly one selector applies per scope.
type Target struct {
	Scope        TargetScope
	UserID       string
	ConnectionID string
	Lat          float64
	Lng          float64
}

// Event is an ephemeral notification. It exists only for the duration of
// dispatch; no queue or replay exists for disconnected targets.
type Event struct {
	Kind    string
	Target  Target
	Payload any
}

// ToUser addresses an event at a single user.
func ToUser(userID string) Target {
	return Target{Scope: TargetUser, UserID: userID}
}

// ToAdmins addresses an event at all connected administrators.
func ToAdmins() Target {
	return Target{Scope: TargetAdmins}
}

// ToConnection addresses an event at a single connection.
func ToConnection(connectionID string) Target {
	return Target{Scope: TargetConnection, ConnectionID: connectionID}
}

// ToCell addresses an event at the live subscribers near a coordinate.
func ToCell(lat, lng float64) Target {
	return Target{Scope: TargetCell, Lat: lat, Lng: lng}
}

// NewTaskNearbyPayload announces a task created inside the subscriber's cell.
type NewTaskNearbyPayload struct {
	TaskID       string `json:"task_id"`
	Title        string `json:"title,omitempty"`
	PointsValue  int64  `json:"points_value,omitempty"`
	CategoryName string `json:"category_name,omitempty"`
	DistanceText string `json:"distance_text,omitempty"`
	Message      string `json:"message"`
}

// SubmissionConfirmedPayload acknowledges a stored submission to its author.
type SubmissionConfirmedPayload struct {
	TaskID       string `json:"task_id"`
	SubmissionID string `json:"submission_id"`
	Message      string `json:"message"`
}

// TaskValidatedPayload reports an approval or rejection to the submitter.
type TaskValidatedPayload struct {
	TaskID           string `json:"task_id"`
	SubmissionID     string `json:"submission_id"`
	ValidationStatus string `json:"validation_status"`
	PointsAwarded    int64  `json:"points_awarded,omitempty"`
	ValidationNotes  string `json:"validation_notes,omitempty"`
	Message          string `json:"message"`
}

// AchievementUnlockedPayload announces a freshly earned achievement.
type AchievementUnlockedPayload struct {
	AchievementType string `json:"achievement_type"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Icon            string `json:"icon"`
	PointsAwarded   int64  `json:"points_awarded"`
	Message         string `json:"message"`
}

// AdminNotificationPayload wraps operational events for the admin room.
type AdminNotificationPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// LocationJoinedPayload acknowledges a cell subscription.
type LocationJoinedPayload struct {
	LocationKey string `json:"location_key"`
	NearbyUsers int    `json:"nearby_users"`
}
