package network

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Resource classes reported by CurrentState.
const (
	ResourceBridges        = "bridges"
	ResourceOverlayDevices = "overlay_devices"
	ResourceRoutes         = "routes"
)

// IntrospectionError is a failed or timed-out live state query.
type IntrospectionError struct {
	Resource string
	Err      error
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("introspecting %s: %v", e.Resource, e.Err)
}

func (e *IntrospectionError) Unwrap() error { return e.Err }

// LiveState is a snapshot of the host's networking state. Resource classes
// listed in Unknown could not be queried and have empty slices.
type LiveState struct {
	Bridges        []LinkInfo  `json:"bridges"`
	OverlayDevices []LinkInfo  `json:"overlayDevices"`
	Routes         []RouteInfo `json:"routes"`
	Unknown        []string    `json:"unknown,omitempty"`
}

func (s LiveState) unknown(resource string) bool {
	for _, u := range s.Unknown {
		if u == resource {
			return true
		}
	}
	return false
}

// DriftReport is the difference between a compiled topology and live state.
type DriftReport struct {
	HasDrift              bool     `json:"hasDrift"`
	MissingBridges        []string `json:"missingBridges"`
	ExtraBridges          []string `json:"extraBridges"`
	MissingOverlayDevices []string `json:"missingOverlayDevices"`
	ExtraOverlayDevices   []string `json:"extraOverlayDevices"`
	Unknown               []string `json:"unknown,omitempty"`
}

// ReconcilerOpts configures live state queries.
type ReconcilerOpts struct {
	QueryTimeout time.Duration // per sub-query (default 5s)
}

// Reconciler introspects live networking state and diffs it against a
// compiled topology. It never changes OS state.
type Reconciler struct {
	introspector Introspector
	timeout      time.Duration
	metrics      *Metrics
	log          *zap.SugaredLogger

	drifts atomic.Int64
}

// NewReconciler returns a Reconciler backed by introspector.
func NewReconciler(introspector Introspector, opts ReconcilerOpts, metrics *Metrics, log *zap.SugaredLogger) *Reconciler {
	timeout := opts.QueryTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Reconciler{
		introspector: introspector,
		timeout:      timeout,
		metrics:      metrics,
		log:          log.Named("reconciler"),
	}
}

// CurrentState queries bridges, overlay devices and routes concurrently.
// Each query is bounded by the query timeout. A failed query is logged and
// its resource class is reported as unknown; CurrentState itself never fails.
func (r *Reconciler) CurrentState(ctx context.Context) LiveState {
	var (
		state                           LiveState
		bridgeErr, overlayErr, routeErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		state.Bridges, bridgeErr = bounded(gctx, r.timeout, r.introspector.ListBridges)
		return nil
	})
	g.Go(func() error {
		state.OverlayDevices, overlayErr = bounded(gctx, r.timeout, r.introspector.ListOverlayDevices)
		return nil
	})
	g.Go(func() error {
		state.Routes, routeErr = bounded(gctx, r.timeout, r.introspector.ListRoutes)
		return nil
	})
	_ = g.Wait()

	for _, q := range []struct {
		resource string
		err      error
	}{
		{ResourceBridges, bridgeErr},
		{ResourceOverlayDevices, overlayErr},
		{ResourceRoutes, routeErr},
	} {
		if q.err == nil {
			continue
		}
		ierr := &IntrospectionError{Resource: q.resource, Err: q.err}
		r.log.Warnw("live state query failed, treating as unknown", "resource", q.resource, "error", ierr)
		state.Unknown = append(state.Unknown, q.resource)
	}

	if state.unknown(ResourceBridges) {
		state.Bridges = nil
	}
	if state.unknown(ResourceOverlayDevices) {
		state.OverlayDevices = nil
	}
	if state.unknown(ResourceRoutes) {
		state.Routes = nil
	}
	return state
}

// bounded runs query with a deadline. Backends that ignore ctx (netlink)
// keep running in the background until they return; the caller does not
// wait for them.
func bounded[T any](ctx context.Context, timeout time.Duration, query func(context.Context) ([]T, error)) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		items []T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		items, err := query(ctx)
		ch <- result{items, err}
	}()

	select {
	case res := <-ch:
		return res.items, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DetectDrift compares compiled against state. Only devices carrying the
// compiler's name prefixes are considered owned, so unrelated host devices
// are never reported as extra. Resource classes that are unknown in state
// are skipped.
func (r *Reconciler) DetectDrift(compiled *CompiledTopology, state LiveState) DriftReport {
	report := DriftReport{
		MissingBridges:        []string{},
		ExtraBridges:          []string{},
		MissingOverlayDevices: []string{},
		ExtraOverlayDevices:   []string{},
		Unknown:               state.Unknown,
	}

	if !state.unknown(ResourceBridges) {
		report.MissingBridges, report.ExtraBridges = diffOwned(compiled.BridgeNames(), state.Bridges, BridgePrefix)
	}
	if !state.unknown(ResourceOverlayDevices) {
		report.MissingOverlayDevices, report.ExtraOverlayDevices = diffOwned(compiled.OverlayDeviceNames(), state.OverlayDevices, OverlayPrefix)
	}

	report.HasDrift = len(report.MissingBridges) > 0 || len(report.ExtraBridges) > 0 ||
		len(report.MissingOverlayDevices) > 0 || len(report.ExtraOverlayDevices) > 0

	if report.HasDrift {
		r.drifts.Add(1)
		r.metrics.DriftChecks.WithLabelValues("drift").Inc()
		r.log.Warnw("drift detected",
			"missing_bridges", report.MissingBridges,
			"extra_bridges", report.ExtraBridges,
			"missing_overlays", report.MissingOverlayDevices,
			"extra_overlays", report.ExtraOverlayDevices,
		)
	} else {
		r.metrics.DriftChecks.WithLabelValues("clean").Inc()
	}
	return report
}

// DriftCount returns how many drift checks have found drift.
func (r *Reconciler) DriftCount() int64 {
	return r.drifts.Load()
}

// diffOwned returns expected names absent from live (in expected order) and
// live names with the owned prefix that are not expected (sorted).
func diffOwned(expected []string, live []LinkInfo, prefix string) (missing, extra []string) {
	want := make(map[string]bool, len(expected))
	for _, n := range expected {
		want[n] = true
	}
	have := make(map[string]bool, len(live))
	for _, l := range live {
		have[l.Name] = true
	}

	missing = []string{}
	for _, n := range expected {
		if !have[n] {
			missing = append(missing, n)
		}
	}
	extra = []string{}
	for n := range have {
		if strings.HasPrefix(n, prefix) && !want[n] {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	return missing, extra
}

// ─── Watch Loop ─────────────────────────────────────────────────────────────

// WatchOpts configures the drift watch loop.
type WatchOpts struct {
	Interval time.Duration // how often to check (default 30s)
}

// RunWatch periodically checks the last applied topology against live state
// and logs drift. It only reports; repairing drift means re-applying with
// force.
//
// Runs until ctx is cancelled.
func (c *Controller) RunWatch(ctx context.Context, opts WatchOpts) {
	interval := opts.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	c.log.Infow("drift watch started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("drift watch stopped")
			return
		case <-ticker.C:
			h := c.CheckHealth(ctx)
			if h.Healthy {
				c.log.Debugw("drift watch complete, no drift")
			} else {
				c.log.Infow("drift watch complete", "drift_checks_with_drift", c.reconciler.DriftCount())
			}
		}
	}
}
