package tasks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mediacore/mediacore/internal/ratings"
	"github.com/mediacore/mediacore/internal/scheduler"
)

// RegisterRatingsLinkTask registers the backfill that resolves IMDb ids for
// catalog titles the rating index has not linked yet.
func RegisterRatingsLinkTask(sched *scheduler.Scheduler, backfiller *ratings.Backfiller, logger zerolog.Logger) error {
	taskLogger := logger.With().Str("task", "ratings-links").Logger()

	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          "ratings-links",
		Name:        "Link Ratings",
		Description: "Looks up IMDb ids for titles seen during evaluation so later joins find their ratings",
		Cron:        "*/15 * * * *",
		Func: func(ctx context.Context) error {
			linked, err := backfiller.Run(ctx)
			if linked > 0 {
				taskLogger.Info().Int("linked", linked).Msg("Linked titles to IMDb ids")
			}
			return err
		},
	})
}
