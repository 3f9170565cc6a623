// Package sweeper reclaims job artifacts once they outlive the retention window.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/profile-letterbox/internal/metrics"
	"github.com/MimeLyc/profile-letterbox/pkg/file"
	"github.com/MimeLyc/profile-letterbox/pkg/icron"
	"github.com/MimeLyc/profile-letterbox/pkg/log"
)

const (
	DefaultRetention = time.Hour
	DefaultSchedule  = "@every 5m"
)

// Report summarises one sweep.
type Report struct {
	FilesRemoved int           `json:"files_removed"`
	DirsRemoved  int           `json:"dirs_removed"`
	BytesFreed   int64         `json:"bytes_freed"`
	Errors       int           `json:"errors"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
}

type Option func(*Sweeper)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// Sweeper deletes files under root older than the retention window and
// removes directories left empty. It never touches job records.
type Sweeper struct {
	root      string
	retention time.Duration
	now       func() time.Time
	group     singleflight.Group

	mu       sync.Mutex
	schedule string
	last     *Report
}

func New(root string, retention time.Duration, opts ...Option) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &Sweeper{
		root:      root,
		retention: retention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) Retention() time.Duration {
	return s.retention
}

// Sweep runs one pass. Concurrent calls share the pass already in flight.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	v, err, shared := s.group.Do("sweep", func() (any, error) {
		return s.sweep(ctx)
	})
	if shared {
		log.WithComponent("sweeper").Debug("Joined sweep already in progress")
	}
	report, _ := v.(Report)
	return report, err
}

func (s *Sweeper) sweep(ctx context.Context) (Report, error) {
	logger := log.WithComponent("sweeper")
	report := Report{StartedAt: s.now()}
	cutoff := report.StartedAt.Add(-s.retention)

	skip := func(path string, err error) {
		report.Errors++
		logger.Warn("Skipping %s: %v", path, err)
	}

	// Directory mtimes are captured before files go, since removing a
	// file refreshes its parent's mtime.
	dirs, err := file.Dirs(s.root, skip)
	if err != nil {
		return report, fmt.Errorf("scan %s: %w", s.root, err)
	}
	stale, err := file.FindOlderThan(s.root, cutoff, skip)
	if err != nil {
		return report, fmt.Errorf("scan %s: %w", s.root, err)
	}

	for _, entry := range stale {
		if err := ctx.Err(); err != nil {
			return s.finish(report), err
		}
		if err := os.Remove(entry.Path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				skip(entry.Path, err)
			}
			continue
		}
		report.FilesRemoved++
		report.BytesFreed += entry.Size
	}

	// Deepest first so parents can empty out in the same pass.
	sort.SliceStable(dirs, func(i, j int) bool {
		return strings.Count(dirs[i].Path, string(os.PathSeparator)) > strings.Count(dirs[j].Path, string(os.PathSeparator))
	})
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return s.finish(report), err
		}
		if !dir.ModTime.Before(cutoff) {
			continue
		}
		empty, err := file.IsEmptyDir(dir.Path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				skip(dir.Path, err)
			}
			continue
		}
		if !empty {
			continue
		}
		if err := os.Remove(dir.Path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				skip(dir.Path, err)
			}
			continue
		}
		report.DirsRemoved++
	}

	report = s.finish(report)
	if report.FilesRemoved+report.DirsRemoved+report.Errors > 0 {
		logger.Info("Sweep removed %d files and %d directories (%d bytes), %d errors",
			report.FilesRemoved, report.DirsRemoved, report.BytesFreed, report.Errors)
	} else {
		logger.Debug("Sweep found nothing to remove")
	}
	return report, nil
}

func (s *Sweeper) finish(report Report) Report {
	report.Duration = s.now().Sub(report.StartedAt)
	metrics.RecordSweep(report.FilesRemoved, report.DirsRemoved, report.BytesFreed, report.Errors)

	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()
	return report
}

// Schedule registers periodic sweeps on c.
func (s *Sweeper) Schedule(c *cron.Cron, expr string) (cron.EntryID, error) {
	if expr == "" {
		expr = DefaultSchedule
	}
	schedule, err := icron.Parse(expr)
	if err != nil {
		return 0, err
	}
	id := c.Schedule(schedule, cron.FuncJob(func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			log.WithComponent("sweeper").Error("Scheduled sweep failed: %v", err)
		}
	}))

	s.mu.Lock()
	s.schedule = expr
	s.mu.Unlock()
	log.WithComponent("sweeper").Info("Sweeping %s every %q with retention %s", s.root, expr, s.retention)
	return id, nil
}

// NextRun reports the next scheduled sweep, or nil when none is scheduled.
func (s *Sweeper) NextRun() *icron.TriggerInfo {
	s.mu.Lock()
	expr := s.schedule
	s.mu.Unlock()
	if expr == "" {
		return nil
	}
	info, err := icron.GetTriggerInfo(expr, s.now())
	if err != nil {
		return nil
	}
	return info
}

// LastReport returns the most recent sweep, if any.
func (s *Sweeper) LastReport() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}
