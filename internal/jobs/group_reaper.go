package jobs

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/metrics"
)

// GroupStore is the part of the grouping service the reaper needs
type GroupStore interface {
	CloseStaleGroups(ctx context.Context, window time.Duration) (int, error)
	CountActive(ctx context.Context) (int64, error)
}

// GroupReaper closes active groups whose last occurrence has fallen out of the window
type GroupReaper struct {
	db      *gorm.DB
	groups  GroupStore
	metrics *metrics.Metrics
}

// NewGroupReaper creates a new group reaper
func NewGroupReaper(db *gorm.DB, groups GroupStore, m *metrics.Metrics) *GroupReaper {
	return &GroupReaper{db: db, groups: groups, metrics: m}
}

// CheckAndClose closes stale groups using the window from engine settings
// and refreshes the active group gauge. It returns how many groups closed.
func (r *GroupReaper) CheckAndClose(ctx context.Context) (int, error) {
	settings, err := database.GetOrCreateEngineSettings(r.db.WithContext(ctx))
	if err != nil {
		return 0, err
	}

	closed := 0
	if settings.ReaperEnabled {
		closed, err = r.groups.CloseStaleGroups(ctx, settings.GroupWindow())
		if err != nil {
			return 0, err
		}
	}

	active, err := r.groups.CountActive(ctx)
	if err != nil {
		return closed, err
	}
	r.metrics.SetActiveGroups(int(active))
	return closed, nil
}

// Start begins the periodic reaping
func (r *GroupReaper) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			closed, err := r.CheckAndClose(context.Background())
			if err != nil {
				log.WithError(err).Error("Group reaper error")
			} else if closed > 0 {
				log.WithField("closed", closed).Info("Group reaper closed stale groups")
			}
		case <-stop:
			log.Info("Group reaper stopped")
			return
		}
	}
}
