package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRetention = 7 * 24 * time.Hour
	DefaultMaxTurns  = 500

	// defaultSweepSpec runs the retention sweep daily at 03:00.
	defaultSweepSpec = "0 3 * * *"
)

// Cleanup sweeps stale session files on a cron schedule and prunes
// oversized histories down to a turn cap.
type Cleanup struct {
	manager   *Manager
	retention time.Duration
	maxTurns  int
	cron      *cron.Cron
	entryID   cron.EntryID
}

// NewCleanup builds a sweeper over the given manager. Zero retention picks
// the default.
func NewCleanup(manager *Manager, retention time.Duration) *Cleanup {
	if retention == 0 {
		retention = DefaultRetention
	}
	return &Cleanup{
		manager:   manager,
		retention: retention,
		maxTurns:  DefaultMaxTurns,
		cron:      cron.New(),
	}
}

// Start schedules the sweep and runs one immediately.
func (c *Cleanup) Start() error {
	id, err := c.cron.AddFunc(defaultSweepSpec, func() {
		if err := c.SweepNow(); err != nil {
			log.Error().Err(err).Msg("Session sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}
	c.entryID = id
	c.cron.Start()

	log.Info().
		Dur("retention", c.retention).
		Str("schedule", defaultSweepSpec).
		Msg("Session cleanup started")

	// First sweep happens right away so a long-stopped process catches up.
	if err := c.SweepNow(); err != nil {
		log.Error().Err(err).Msg("Initial session sweep failed")
	}
	return nil
}

// Stop halts the schedule, waiting for an in-flight sweep.
func (c *Cleanup) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Session cleanup stopped")
}

// SweepNow prunes oversized sessions and deletes those idle past the
// retention window.
func (c *Cleanup) SweepNow() error {
	ctx := context.Background()

	ids, err := c.manager.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	now := time.Now()
	deleted := 0

	for _, id := range ids {
		if err := c.prune(ctx, id); err != nil {
			log.Warn().Str("session_id", id).Err(err).Msg("Failed to prune session")
		}

		info, err := c.manager.Info(ctx, id)
		if err != nil {
			log.Warn().Str("session_id", id).Err(err).Msg("Failed to stat session")
			continue
		}
		lastModified, ok := info["last_modified"].(time.Time)
		if !ok {
			continue
		}

		if age := now.Sub(lastModified); age >= c.retention {
			if err := c.manager.Delete(ctx, id); err != nil {
				log.Error().Str("session_id", id).Err(err).Msg("Failed to delete stale session")
				continue
			}
			deleted++
			log.Debug().Str("session_id", id).Dur("age", age).Msg("Stale session deleted")
		}
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Stale sessions cleaned up")
	}
	return nil
}

func (c *Cleanup) prune(ctx context.Context, sessionID string) error {
	if c.maxTurns <= 0 {
		return nil
	}

	turns, err := c.manager.LoadTurns(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(turns) <= c.maxTurns {
		return nil
	}

	kept := turns[len(turns)-c.maxTurns:]
	if err := c.manager.ReplaceTurns(ctx, sessionID, kept); err != nil {
		return err
	}

	log.Debug().
		Str("session_id", sessionID).
		Int("from_turns", len(turns)).
		Int("to_turns", len(kept)).
		Msg("Session pruned")
	return nil
}

// SetMaxTurns caps the number of turns kept per session after pruning.
func (c *Cleanup) SetMaxTurns(n int) {
	c.maxTurns = n
}
