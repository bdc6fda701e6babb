package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/provinciadigital41-cpu/provincia/config"
	"github.com/provinciadigital41-cpu/provincia/service"
	"github.com/robfig/cron/v3"
)

// StartRetention schedules the periodic purge of runs older than the
// configured retention window.
func StartRetention(store service.RunStore, cfg *config.StoreConfig) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(cfg.CleanupSchedule, func() {
		ctx := context.Background()
		cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays)

		removed, err := store.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			slog.Error("run retention purge failed", "error", err)
			return
		}
		slog.Info("run retention purge completed", "removed", removed, "cutoff", cutoff)
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}
