package tasks

import (
	"github.com/mediacore/mediacore/internal/config"
	"github.com/mediacore/mediacore/internal/lists"
	"github.com/mediacore/mediacore/internal/scheduler"
)

// RegisterListRefreshTask registers the tick that queues lists due for refresh.
// One tick covers every list; the refresher's worker pool does the fetching.
func RegisterListRefreshTask(sched *scheduler.Scheduler, refresher *lists.Refresher, cfg config.ListsConfig) error {
	cron := cfg.RefreshCron
	if cron == "" {
		cron = "* * * * *"
	}

	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          "list-refresh",
		Name:        "Refresh Dynamic Lists",
		Description: "Queues auto-updating lists whose update interval has elapsed",
		Cron:        cron,
		RunOnStart:  true, // Catch up on lists that went stale while stopped
		Quiet:       true,
		Func:        refresher.Tick,
	})
}
