package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ProviderStrava    = "strava"
	ProviderGarmin    = "garmin"
	ProviderGoogleFit = "google_fit"
)

// RunRecord is a fitness-provider activity, unique per (user, provider,
// external id). Immutable once created except for fraud-review annotations.
type RunRecord struct {
	ID         string `json:"id" gorm:"primaryKey"`
	UserID     string `json:"user_id" gorm:"not null;uniqueIndex:idx_provider_activity"`
	Provider   string `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:idx_provider_activity"`
	ExternalID string `json:"external_id" gorm:"not null;uniqueIndex:idx_provider_activity"`

	StartedAt   time.Time       `json:"started_at" gorm:"not null;index"`
	DurationSec int             `json:"duration_sec" gorm:"not null"`
	DistanceKm  decimal.Decimal `json:"distance_km" gorm:"type:decimal(10,3);not null"`
	PaceMinKm   decimal.Decimal `json:"pace_min_km" gorm:"type:decimal(6,2)"` // computed at ingest

	// Integrity — carried from the provider gateway, never computed here
	IntegrityScore float64 `json:"integrity_score" gorm:"default:1"` // [0,1]
	IsSuspicious   bool    `json:"is_suspicious" gorm:"default:false"`
	IsFraud        bool    `json:"is_fraud" gorm:"default:false"`

	// Fraud-review annotations (the only mutable fields)
	ReviewNote string     `json:"review_note,omitempty"`
	ReviewedBy string     `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`

	Timestamps

	RoutePoints []RoutePoint `json:"route_points,omitempty" gorm:"foreignKey:RunRecordID"`
}

// RoutePoint is one timestamped coordinate of a run's route. Stored as rows
// rather than an opaque JSON blob so it stays queryable.
type RoutePoint struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunRecordID string    `json:"run_record_id" gorm:"not null;index"`
	Seq         int       `json:"seq" gorm:"not null"`
	Lat         float64   `json:"lat" gorm:"not null"`
	Lng         float64   `json:"lng" gorm:"not null"`
	RecordedAt  time.Time `json:"recorded_at" gorm:"not null"`
}

// QuestRun marks which runs count toward which quest for which user.
// Invalidated by moderation action, never physically removed.
type QuestRun struct {
	ID          string `json:"id" gorm:"primaryKey"`
	QuestID     string `json:"quest_id" gorm:"not null;uniqueIndex:idx_quest_run"`
	RunRecordID string `json:"run_record_id" gorm:"not null;uniqueIndex:idx_quest_run"`
	UserID      string `json:"user_id" gorm:"not null;index"`

	IsValid       bool   `json:"is_valid" gorm:"default:true"`
	InvalidReason string `json:"invalid_reason,omitempty"`

	// Manual-review metadata
	ReviewedBy string     `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`

	Timestamps

	RunRecord RunRecord `json:"run_record,omitempty" gorm:"foreignKey:RunRecordID"`
}
