package main

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slack-go/slack"
)

// StartSyncScheduler runs incremental syncs on a cron schedule and posts a
// summary to the report channel when Slack is configured.
// The schedule is a standard 5-field cron expression (minute hour day-of-month month day-of-week).
// Examples: "0 7 * * *" (daily 7am), "0 */6 * * *" (every 6 hours).
func StartSyncScheduler(cfg Config, db *sql.DB, syncer *Syncer) {
	schedule := strings.TrimSpace(cfg.SyncSchedule)
	if schedule == "" {
		log.Println("Scheduled sync disabled (sync_schedule not set)")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid sync_schedule '%s': %v, scheduled sync disabled", schedule, err)
		return
	}

	var api *slack.Client
	if cfg.SlackConfigured() {
		api = slack.New(cfg.SlackBotToken)
	}
	log.Printf("Scheduled sync enabled (cron: %s)", schedule)

	go func() {
		for {
			now := time.Now().In(cfg.Location)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next sync at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)

			result, syncErr := syncer.Run(context.Background(), SyncOptions{})
			if syncErr != nil {
				log.Printf("Scheduled sync error: %v", syncErr)
				continue
			}
			log.Printf("Scheduled sync complete: %s", FormatSyncSummary(result))

			digest := ""
			if cfg.DigestConfigured() {
				d, digestErr := BuildQualityDigest(context.Background(), cfg, db)
				if digestErr != nil {
					log.Printf("Digest error: %v", digestErr)
				}
				digest = d
			}
			if api != nil {
				PostSyncSummary(cfg, api, result, digest)
			}
		}
	}()
}
