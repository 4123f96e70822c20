package main

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"
)

// PostSyncSummary posts a sync result (and optional digest) to the report
// channel. Notification failures are logged, never fatal: the cache is
// already up to date by the time this runs.
func PostSyncSummary(cfg Config, api *slack.Client, result SyncResult, digest string) {
	if !cfg.SlackConfigured() {
		return
	}
	msg := fmt.Sprintf("Evaluation sync complete: %s", FormatSyncSummary(result))
	if digest != "" {
		msg += "\n\n" + digest
	}
	_, _, err := api.PostMessage(cfg.ReportChannelID, slack.MsgOptionText(msg, false))
	if err != nil {
		log.Printf("sync notify error: %v", err)
	}
}
