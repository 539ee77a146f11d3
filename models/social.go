package models

import "time"

const (
	ReportStatusOpen      = "open"
	ReportStatusUpheld    = "upheld"
	ReportStatusDismissed = "dismissed"
)

// Kudos is a cheer on a run record, one per (run, user).
type Kudos struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	RunRecordID string    `json:"run_record_id" gorm:"not null;uniqueIndex:idx_run_kudos"`
	FromUserID  string    `json:"from_user_id" gorm:"not null;uniqueIndex:idx_run_kudos"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// AbuseReport flags a run record for moderation. Upholding a report
// invalidates the run's quest links and marks the run fraudulent.
type AbuseReport struct {
	ID          string `json:"id" gorm:"primaryKey"`
	ReporterID  string `json:"reporter_id" gorm:"not null;index"`
	RunRecordID string `json:"run_record_id" gorm:"not null;index"`
	Reason      string `json:"reason" gorm:"type:text;not null"`
	Status      string `json:"status" gorm:"type:varchar(16);default:'open';index"`

	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Resolution string     `json:"resolution,omitempty"`

	Timestamps
}
