package sandbox

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
)

// StartSweeper removes idle sandboxes on the configured cron schedule.
// Blocks until the context is cancelled.
func (m *Manager) StartSweeper(ctx context.Context) {
	schedule := m.cfg.SweepSchedule
	if schedule == "" {
		schedule = "*/5 * * * *"
	}
	cron := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := cron.IsDue(schedule, now)
			if err != nil {
				m.logger.Warn("sweep schedule error", "schedule", schedule, "error", err)
				return
			}
			if due {
				m.Sweep(ctx)
			}
		}
	}
}

// Sweep removes every sandbox idle longer than the inactivity TTL,
// then reclaims orphaned containers a previous run left behind.
func (m *Manager) Sweep(ctx context.Context) {
	if ttl := time.Duration(m.cfg.InactivityTTLMin) * time.Minute; ttl > 0 {
		m.sweepIdle(ctx, ttl)
	}
	m.sweepOrphans(ctx)
}

func (m *Manager) sweepIdle(ctx context.Context, ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	stale := map[int64]string{}
	for userID, b := range m.boxes {
		if b.lastUsed.Before(cutoff) {
			stale[userID] = b.id
			delete(m.boxes, userID)
		}
	}
	m.mu.Unlock()

	for userID, id := range stale {
		if err := m.destroy(ctx, userID, id); err != nil {
			m.logger.Warn("sweep removal failed", "user_id", userID, "error", err)
		} else {
			m.logger.Info("idle sandbox swept", "user_id", userID)
		}
	}
}

// sweepOrphans removes containers that carry the sandbox_ name prefix
// but have no live record: leftovers of a crashed previous run whose
// user never came back to trigger the lazy replacement in ensure.
func (m *Manager) sweepOrphans(ctx context.Context) {
	listed, err := m.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "sandbox_")),
	})
	if err != nil {
		m.logger.Warn("orphan discovery failed", "error", err)
		return
	}

	m.mu.Lock()
	known := make(map[string]bool, len(m.boxes))
	for _, b := range m.boxes {
		known[b.id] = true
	}
	m.mu.Unlock()

	for _, c := range listed {
		if known[c.ID] {
			continue
		}
		if err := m.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			m.logger.Warn("orphan removal failed", "container", shortID(c.ID), "error", err)
			continue
		}
		m.logger.Info("orphan sandbox removed", "container", shortID(c.ID))
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
