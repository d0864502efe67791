package archive

import (
	"context"
	"sort"
	"time"

	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"
)

// GCOpts configures archive garbage collection.
type GCOpts struct {
	Interval  time.Duration // default 30m
	KeepLastN int           // newest entries to keep (default 10)
	DryRun    bool          // log what would be removed
}

// GC prunes old compiled topologies from a Store. The entry reported by
// inUse (the currently applied topology) is never removed.
type GC struct {
	store *Store
	opts  GCOpts
	inUse func() string
	log   *zap.SugaredLogger
}

// NewGC returns a collector for store. inUse may be nil.
func NewGC(store *Store, opts GCOpts, inUse func() string, log *zap.SugaredLogger) *GC {
	if opts.Interval == 0 {
		opts.Interval = 30 * time.Minute
	}
	if opts.KeepLastN == 0 {
		opts.KeepLastN = 10
	}
	return &GC{store: store, opts: opts, inUse: inUse, log: log.Named("archive-gc")}
}

// Run periodically prunes the archive until ctx is cancelled.
func (g *GC) Run(ctx context.Context) {
	ticker := time.NewTicker(g.opts.Interval)
	defer ticker.Stop()

	g.log.Infow("archive GC started", "interval", g.opts.Interval, "keep", g.opts.KeepLastN)

	for {
		select {
		case <-ctx.Done():
			g.log.Info("archive GC shutting down")
			return
		case <-ticker.C:
			if _, err := g.Prune(); err != nil {
				g.log.Warnw("archive GC failed", "error", err)
			}
		}
	}
}

// Prune removes all but the newest KeepLastN entries, sparing the in-use
// one. It returns the removed digests (or the ones that would be removed in
// dry-run mode).
func (g *GC) Prune() ([]digest.Digest, error) {
	all, err := g.store.List()
	if err != nil {
		return nil, err
	}

	type entry struct {
		d   digest.Digest
		mod time.Time
	}
	var current string
	if g.inUse != nil {
		current = g.inUse()
	}

	var candidates []entry
	for _, d := range all {
		if d.String() == current {
			continue
		}
		mod, err := g.store.ModTime(d)
		if err != nil {
			continue
		}
		candidates = append(candidates, entry{d, mod})
	}

	if len(candidates) <= g.opts.KeepLastN {
		return nil, nil
	}

	// Oldest first; ties by digest so runs are repeatable.
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].mod.Equal(candidates[j].mod) {
			return candidates[i].mod.Before(candidates[j].mod)
		}
		return candidates[i].d < candidates[j].d
	})

	var removed []digest.Digest
	for _, e := range candidates[:len(candidates)-g.opts.KeepLastN] {
		if g.opts.DryRun {
			g.log.Infow("GC dry-run: would remove compiled topology", "digest", e.d)
			removed = append(removed, e.d)
			continue
		}
		if err := g.store.Remove(e.d); err != nil {
			g.log.Warnw("GC: failed to remove compiled topology", "digest", e.d, "error", err)
			continue
		}
		removed = append(removed, e.d)
	}

	if len(removed) > 0 {
		g.log.Infow("GC completed", "removed", len(removed), "dry_run", g.opts.DryRun)
	}
	return removed, nil
}
