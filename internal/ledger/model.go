package ledger

// Entry is one immutable signed point delta in a user's ledger.
// Rows are only ever inserted; corrections are made with compensating
// entries, never by mutating or deleting history.
type Entry struct {
	EntryID          string `gorm:"column:entry_id;primaryKey;size:190;not null" json:"entry_id"`
	UserID           string `gorm:"column:user_id;size:190;not null;index:idx_ledger_user_time,priority:1" json:"user_id"`
	Delta            int64  `gorm:"column:delta;not null" json:"delta"`
	Reason           string `gorm:"column:reason;size:190;not null" json:"reason"`
	ReferenceID      string `gorm:"column:reference_id;size:190" json:"reference_id"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_ledger_user_time,priority:2" json:"created_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "ledger_entries"
}

// AccountTotal caches the sum of a user's ledger deltas. It is refreshed in
// the same transaction as every append and is never written through any
// other path, so it cannot drift from the entry sum.
type AccountTotal struct {
	UserID      string `gorm:"column:user_id;primaryKey;size:190;not null" json:"user_id"`
	TotalPoints int64  `gorm:"column:total_points;not null;default:0" json:"total_points"`
}

// TableName provides the explicit table binding for GORM.
func (AccountTotal) TableName() string {
	return "ledger_totals"
}
