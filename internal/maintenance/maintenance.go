// Package maintenance runs the background upkeep loop: WAL compaction for
// the keyword and n-gram indices, periodic archive warmup, and metrics
// reporting. It never runs on the ingest path — every tick is opportunistic
// and can be skipped without correctness loss, only latency cost on the
// index's next load.
package maintenance

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryd/internal/archive"
	"github.com/kittclouds/memoryd/internal/index/keyword"
	"github.com/kittclouds/memoryd/internal/index/ngram"
	"github.com/kittclouds/memoryd/internal/telemetry"
)

// DefaultInterval is how often the loop wakes up absent an explicit tick
// notification from the ingest path.
const DefaultInterval = 5 * time.Minute

// DefaultWarmupVolumes is how many of the most recent archive volumes stay
// preloaded.
const DefaultWarmupVolumes = 2

// Loop owns the background ticker and the subsystems it maintains.
type Loop struct {
	log     zerolog.Logger
	metrics *telemetry.Metrics

	archive *archive.Archive
	keyword *keyword.Index
	ngram   *ngram.Index

	interval      time.Duration
	warmupVolumes int

	ticks <-chan struct{} // notify-on-ingest channel from the orchestrator, may be nil
}

// Deps bundles Loop's dependencies.
type Deps struct {
	Log           zerolog.Logger
	Metrics       *telemetry.Metrics
	Archive       *archive.Archive
	Keyword       *keyword.Index
	NGram         *ngram.Index
	Interval      time.Duration
	WarmupVolumes int
	Ticks         <-chan struct{}
}

// New builds a maintenance loop. Interval and WarmupVolumes default when
// left zero.
func New(d Deps) *Loop {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	warmup := d.WarmupVolumes
	if warmup <= 0 {
		warmup = DefaultWarmupVolumes
	}
	metrics := d.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics()
	}
	return &Loop{
		log:           d.Log,
		metrics:       metrics,
		archive:       d.Archive,
		keyword:       d.Keyword,
		ngram:         d.NGram,
		interval:      interval,
		warmupVolumes: warmup,
		ticks:         d.Ticks,
	}
}

// Run blocks, running maintenance passes on a fixed interval and whenever
// the ingest path signals a tick, until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runOnce(ctx)
		case _, ok := <-l.ticks:
			if !ok {
				l.ticks = nil
				continue
			}
			l.metrics.MaintenanceTicks.Add(ctx, 1)
			l.runOnce(ctx)
		}
	}
}

// runOnce performs one full maintenance pass: WAL compaction, then warmup.
func (l *Loop) runOnce(ctx context.Context) {
	start := time.Now()

	if l.keyword != nil {
		if err := l.keyword.Compact(); err != nil {
			l.log.Warn().Err(err).Msg("maintenance: keyword index compaction failed")
		} else {
			l.metrics.WALCompactions.Add(ctx, 1)
		}
	}
	if l.ngram != nil {
		if err := l.ngram.Compact(); err != nil {
			l.log.Warn().Err(err).Msg("maintenance: ngram index compaction failed")
		} else {
			l.metrics.WALCompactions.Add(ctx, 1)
		}
	}
	if l.archive != nil {
		if err := l.archive.PreloadRecent(l.warmupVolumes); err != nil {
			l.log.Warn().Err(err).Msg("maintenance: archive warmup failed")
		}
	}

	elapsed := time.Since(start).Seconds() * 1000
	l.metrics.FlushLatency.Record(ctx, elapsed)
}
