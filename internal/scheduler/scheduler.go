// Package scheduler runs the periodic integrity sweep that re-hashes recent
// artifact partitions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/user/rungov/internal/alert"
	"github.com/user/rungov/internal/digest"
	"github.com/user/rungov/internal/types"
)

// Source is the read side of the artifact store the sweep walks.
type Source interface {
	Partitions(from, to time.Time) ([]string, error)
	Query(ctx context.Context, filter types.ArtifactFilter) iter.Seq2[*types.RunArtifact, error]
}

// Notifier receives sweep alerts.
type Notifier interface {
	Notify(ctx context.Context, a alert.Alert) error
}

// Mismatch is one artifact that failed verification.
type Mismatch struct {
	RunID types.RunID `json:"run_id"`
	Error string      `json:"error"`
}

// Report summarises one sweep.
type Report struct {
	Partitions []string   `json:"partitions"`
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches"`
}

// Config configures the sweep.
type Config struct {
	Schedule    string
	Days        int
	Concurrency int
	Now         func() time.Time
}

// Scheduler verifies every artifact of the last Days partitions on a cron
// schedule.
type Scheduler struct {
	src      Source
	notifier Notifier
	cfg      Config
	cron     *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler. A nil notifier logs alerts only.
func New(src Source, notifier Notifier, cfg Config) *Scheduler {
	if cfg.Days <= 0 {
		cfg.Days = 2
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if notifier == nil {
		notifier = alert.NewRegistry()
	}
	return &Scheduler{
		src:      src,
		notifier: notifier,
		cfg:      cfg,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the sweep and starts the cron ticker. An empty schedule
// disables the sweep.
func (s *Scheduler) Start() error {
	if s.cfg.Schedule == "" {
		slog.Info("integrity sweep disabled")
		return nil
	}
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			slog.Error("integrity sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.Schedule, err)
	}
	slog.Info("scheduled integrity sweep", "schedule", s.cfg.Schedule, "days", s.cfg.Days)
	s.cron.Start()
	return nil
}

// Stop stops the cron ticker and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep verifies every artifact in the partitions covering the last
// cfg.Days days, one goroutine per partition. Mismatches raise a single
// alert; they are not returned as an error.
func (s *Scheduler) Sweep(ctx context.Context) (*Report, error) {
	now := s.cfg.Now().UTC()
	from := now.Truncate(24*time.Hour).AddDate(0, 0, -(s.cfg.Days - 1))
	days, err := s.src.Partitions(from, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var (
		mu     sync.Mutex
		report = &Report{Partitions: days, Mismatches: []Mismatch{}}
	)
	if report.Partitions == nil {
		report.Partitions = []string{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, day := range days {
		g.Go(func() error {
			checked, bad, err := s.sweepPartition(gctx, day)
			mu.Lock()
			defer mu.Unlock()
			report.Checked += checked
			report.Mismatches = append(report.Mismatches, bad...)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	slog.Info("integrity sweep complete",
		"partitions", len(days),
		"checked", report.Checked,
		"mismatches", len(report.Mismatches),
	)
	if len(report.Mismatches) > 0 {
		s.raise(ctx, report)
	}
	return report, nil
}

func (s *Scheduler) sweepPartition(ctx context.Context, day string) (int, []Mismatch, error) {
	start, err := time.Parse(types.PartitionLayout, day)
	if err != nil {
		return 0, nil, fmt.Errorf("parse partition %s: %w", day, err)
	}
	filter := types.ArtifactFilter{From: start, To: start.Add(24 * time.Hour)}

	checked := 0
	var bad []Mismatch
	for art, err := range s.src.Query(ctx, filter) {
		if err != nil {
			var integrity *types.StoreIntegrityError
			if errors.As(err, &integrity) {
				checked++
				bad = append(bad, Mismatch{RunID: integrity.RunID, Error: err.Error()})
				continue
			}
			return checked, bad, fmt.Errorf("sweep partition %s: %w", day, err)
		}
		checked++
		if err := digest.VerifyArtifact(art); err != nil {
			slog.Error("artifact failed verification", "run_id", string(art.RunID), "partition", day, "error", err)
			bad = append(bad, Mismatch{RunID: art.RunID, Error: err.Error()})
		}
	}
	return checked, bad, nil
}

func (s *Scheduler) raise(ctx context.Context, r *Report) {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d artifacts failed verification:", len(r.Mismatches), r.Checked)
	for _, m := range r.Mismatches {
		fmt.Fprintf(&b, "\n%s: %s", m.RunID, m.Error)
	}
	a := alert.Alert{Subject: "integrity sweep mismatch", Body: b.String(), At: s.cfg.Now().UTC()}
	if len(r.Mismatches) == 1 {
		a.RunID = r.Mismatches[0].RunID
	}
	if err := s.notifier.Notify(ctx, a); err != nil {
		slog.Error("alert delivery failed", "error", err)
	}
}
