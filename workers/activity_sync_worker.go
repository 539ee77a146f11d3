// workers/activity_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"run-dao-backend/services"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProviderActivityPayload matches the JSON the fitness gateway emits per
// activity. The gateway has already normalized Strava/Garmin/Google Fit
// payloads and computed the integrity score.
type ProviderActivityPayload struct {
	UserID         string    `json:"user_id"`
	Provider       string    `json:"provider"`
	ExternalID     string    `json:"external_id"`
	StartedAt      time.Time `json:"started_at"`
	DurationSec    int       `json:"duration_sec"`
	DistanceKm     string    `json:"distance_km"`
	IntegrityScore *float64  `json:"integrity_score,omitempty"`
	IsSuspicious   bool      `json:"is_suspicious"`
	Route          []struct {
		Lat        float64   `json:"lat"`
		Lng        float64   `json:"lng"`
		RecordedAt time.Time `json:"recorded_at"`
	} `json:"route,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type GetActivityChangesResponse struct {
	Activities []ProviderActivityPayload `json:"activities"`
}

// ActivitySyncWorker polls the fitness gateway for new provider activities
// and feeds them through the same ingest path the HTTP surface uses, so
// quest attribution stays in one place.
type ActivitySyncWorker struct {
	db           *gorm.DB
	runs         *services.RunService
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewActivitySyncWorker(db *gorm.DB, runs *services.RunService, gatewayBaseURL, endpointPath, serviceToken string) *ActivitySyncWorker {
	return &ActivitySyncWorker{
		db:           db,
		runs:         runs,
		interval:     1 * time.Minute,
		baseURL:      gatewayBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *ActivitySyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Activity Sync Worker (fitness gateway → run_records)…")
	go w.run(ctx)
}

func (w *ActivitySyncWorker) run(ctx context.Context) {
	// Backfill from the beginning on first boot; duplicates are rejected by
	// the (user, provider, external_id) uniqueness anyway.
	if err := w.syncBatch(ctx, time.Time{}); err != nil {
		log.Printf("⚠️ Initial activity sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.syncBatch(ctx, w.getLastSyncTime()); err != nil {
				log.Printf("❌ Activity sync batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Activity Sync Worker stopped")
			return
		}
	}
}

// getLastSyncTime finds the most recent ingested run so each poll only asks
// for what is new.
func (w *ActivitySyncWorker) getLastSyncTime() time.Time {
	var lastTime time.Time
	err := w.db.Raw("SELECT MAX(created_at) FROM run_records WHERE deleted_at IS NULL").Scan(&lastTime).Error
	if err != nil || lastTime.IsZero() {
		return time.Unix(0, 0)
	}
	return lastTime
}

func (w *ActivitySyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	sinceStr := since.UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return fmt.Errorf("invalid fitness gateway URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", sinceStr)
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, "GET", finalURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request to fitness gateway failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("fitness gateway non-200 response: %d — %s", resp.StatusCode, string(body))
	}

	var response GetActivityChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode fitness gateway response: %w", err)
	}

	if len(response.Activities) == 0 {
		return nil
	}
	log.Printf("[SYNC] 📥 Processing %d activit(ies) from fitness gateway…", len(response.Activities))

	var ingested, skipped, failed int
	for _, a := range response.Activities {
		activity, err := w.toServiceActivity(a)
		if err != nil {
			failed++
			log.Printf("[SYNC] ⚠️ Bad activity payload (provider=%s, external_id=%s): %v", a.Provider, a.ExternalID, err)
			continue
		}

		_, _, err = w.runs.IngestActivity(a.UserID, activity)
		switch {
		case err == nil:
			ingested++
		case services.IsKind(err, services.ErrKindStateConflict):
			// already ingested in a previous window
			skipped++
		default:
			failed++
			log.Printf("[SYNC] ⚠️ Failed to ingest activity (provider=%s, external_id=%s): %v", a.Provider, a.ExternalID, err)
		}
	}

	log.Printf("[SYNC] ✅ Activity batch done: %d ingested, %d already known, %d failed", ingested, skipped, failed)
	return nil
}

func (w *ActivitySyncWorker) toServiceActivity(a ProviderActivityPayload) (*services.ProviderActivity, error) {
	distance, err := decimal.NewFromString(a.DistanceKm)
	if err != nil {
		return nil, fmt.Errorf("invalid distance_km %q: %w", a.DistanceKm, err)
	}

	activity := &services.ProviderActivity{
		Provider:       a.Provider,
		ExternalID:     a.ExternalID,
		StartedAt:      a.StartedAt,
		DurationSec:    a.DurationSec,
		DistanceKm:     distance,
		IntegrityScore: a.IntegrityScore,
		IsSuspicious:   a.IsSuspicious,
	}
	for _, p := range a.Route {
		activity.Route = append(activity.Route, services.RoutePointSample{
			Lat:        p.Lat,
			Lng:        p.Lng,
			RecordedAt: p.RecordedAt,
		})
	}
	return activity, nil
}
