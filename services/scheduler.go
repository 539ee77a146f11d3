// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartLifecycleScheduler runs the quest clock: every minute, open quests
// whose start time has passed go active (or get cancelled when nobody
// staked). Completion stays a deliberate call, never automatic.
func (s *QuestService) StartLifecycleScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			changed, err := s.ActivateDueQuests()
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}
			if changed > 0 {
				log.Printf("[Scheduler] %d quest(s) transitioned", changed)
			}
		}),
	)
}
