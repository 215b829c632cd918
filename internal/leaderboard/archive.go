package leaderboard

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kiliankoe/vibecheck/internal/game"
)

// Archiver copies the live boards into a mirror repository and exports them
// as a ranked text file. Either target may be unset.
type Archiver struct {
	Source     Repository
	Mirror     Repository
	ExportFile string
	Log        zerolog.Logger
	Now        func() time.Time
}

// Sync appends every source entry to the mirror and returns how many entries
// were offered.
func (a *Archiver) Sync(ctx context.Context) (int, error) {
	if a.Mirror == nil {
		return 0, nil
	}
	n := 0
	for _, t := range Boards {
		entries, err := a.Source.List(ctx, t)
		if err != nil {
			return n, err
		}
		for _, e := range entries {
			if _, err := a.Mirror.Append(ctx, t, e); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (a *Archiver) Export(ctx context.Context) error {
	if a.ExportFile == "" {
		return nil
	}
	boards, err := All(ctx, a.Source)
	if err != nil {
		return err
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	return game.ExportBoards(boards, a.ExportFile, now())
}

// Schedule registers the sync and export jobs with cron specs and starts the
// scheduler. An empty spec skips that job.
func (a *Archiver) Schedule(syncSpec, exportSpec string) (*cron.Cron, error) {
	c := cron.New()
	if syncSpec != "" && a.Mirror != nil {
		if _, err := c.AddFunc(syncSpec, func() {
			n, err := a.Sync(context.Background())
			if err != nil {
				a.Log.Error().Err(err).Msg("leaderboard sync failed")
				return
			}
			a.Log.Info().Int("entries", n).Msg("leaderboard synced")
		}); err != nil {
			return nil, err
		}
	}
	if exportSpec != "" && a.ExportFile != "" {
		if _, err := c.AddFunc(exportSpec, func() {
			if err := a.Export(context.Background()); err != nil {
				a.Log.Error().Err(err).Str("file", a.ExportFile).Msg("leaderboard export failed")
				return
			}
			a.Log.Info().Str("file", a.ExportFile).Msg("exported leaderboards")
		}); err != nil {
			return nil, err
		}
	}
	c.Start()
	return c, nil
}
