package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	"github.com/glennswest/microsdn/pkg/network/ipam"
)

// ErrInvalidIntent is returned by ApplyIntent when validation fails.
var ErrInvalidIntent = errors.New("intent failed validation")

// ApplyExecutionError is returned when a command of the plan fails. The
// commands before Index have already run; the ones after it have not.
type ApplyExecutionError struct {
	Index    int
	Command  Command
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ApplyExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %d (%s): %v", e.Index, e.Command, e.Err)
	}
	return fmt.Sprintf("command %d (%s) exited %d: %s", e.Index, e.Command, e.ExitCode, e.Stderr)
}

func (e *ApplyExecutionError) Unwrap() error { return e.Err }

// Archive keeps compiled topologies by content digest. Get returns an error
// wrapping fs.ErrNotExist for unknown digests.
type Archive interface {
	Put(d digest.Digest, data []byte) error
	Get(d digest.Digest) ([]byte, error)
}

// Options configures a Controller.
type Options struct {
	StatePath      string        // persisted AppliedRecord, "" = memory only
	CommandTimeout time.Duration // per command (default 30s)
	QueryTimeout   time.Duration // per introspection query (default 5s)
	Archive        Archive       // optional
	Metrics        *Metrics      // optional
	Now            func() time.Time

	// RecordOnly marks an executor that records commands without running
	// them. Applies then update memory only: the record is not persisted
	// and the compiled topology is not archived.
	RecordOnly bool
}

// Controller validates, compiles and applies topology intents and checks
// the applied topology against live state.
type Controller struct {
	exec       Executor
	reconciler *Reconciler
	state      *stateStore
	archive    Archive
	metrics    *Metrics
	cmdTimeout time.Duration
	now        func() time.Time
	recordOnly bool
	log        *zap.SugaredLogger

	mu      sync.Mutex
	applied appliedState
}

// appliedState is the controller's only mutable state. Guarded by mu.
type appliedState struct {
	intent     *TopologyIntent
	compiled   *CompiledTopology
	record     AppliedRecord
	applyCount int
}

// NewController returns a Controller. The persisted record is loaded on a
// best-effort basis; a missing or unreadable file is logged and ignored.
func NewController(exec Executor, introspector Introspector, opts Options, log *zap.SugaredLogger) *Controller {
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = 30 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	c := &Controller{
		exec:       exec,
		reconciler: NewReconciler(introspector, ReconcilerOpts{QueryTimeout: opts.QueryTimeout}, opts.Metrics, log),
		state:      newStateStore(opts.StatePath),
		archive:    opts.Archive,
		metrics:    opts.Metrics,
		cmdTimeout: opts.CommandTimeout,
		now:        opts.Now,
		recordOnly: opts.RecordOnly,
		log:        log,
	}

	rec, err := c.state.load()
	switch {
	case err == nil:
		c.applied.record = rec
		if rec.IntentHash != "" {
			log.Infow("loaded controller state", "intent", rec.IntentName, "version", rec.IntentVersion, "hash", rec.IntentHash)
			c.applied.compiled = c.restoreCompiled(rec.IntentHash)
		}
	case errors.Is(err, os.ErrNotExist):
		log.Debugw("no controller state yet", "path", opts.StatePath)
	default:
		log.Warnw("failed to load controller state", "path", opts.StatePath, "error", err)
	}

	return c
}

// ─── Validate / Dry Run ─────────────────────────────────────────────────────

// ValidationResult is the outcome of ValidateIntent.
type ValidationResult struct {
	Valid        bool     `json:"valid"`
	Errors       []string `json:"errors"`
	SegmentCount int      `json:"segmentCount"`
	OverlayCount int      `json:"overlayCount"`
	PolicyCount  int      `json:"policyCount"`
}

// ValidateIntent runs intent validation. It never changes controller state.
func (c *Controller) ValidateIntent(intent *TopologyIntent) ValidationResult {
	err := intent.Validate()
	return ValidationResult{
		Valid:        err == nil,
		Errors:       ValidationErrors(err),
		SegmentCount: len(intent.Segments),
		OverlayCount: len(intent.Overlays),
		PolicyCount:  len(intent.Policies),
	}
}

// DryRunResult previews what ApplyIntent would do.
type DryRunResult struct {
	Success        bool                `json:"success"`
	Validation     ValidationResult    `json:"validation"`
	IntentHash     string              `json:"intentHash,omitempty"`
	Bridges        []BridgeSpec        `json:"bridges,omitempty"`
	OverlayDevices []OverlayDeviceSpec `json:"overlayDevices,omitempty"`
	FirewallRules  []string            `json:"firewallRules,omitempty"`
	Commands       []string            `json:"commands,omitempty"`
	Changed        bool                `json:"changed"` // hash differs from the applied one
}

// DryRun validates and compiles intent without executing or persisting
// anything.
func (c *Controller) DryRun(intent *TopologyIntent) DryRunResult {
	v := c.ValidateIntent(intent)
	if !v.Valid {
		return DryRunResult{Validation: v}
	}

	compiled := CompileAt(intent, c.now())

	c.mu.Lock()
	current := c.applied.record.IntentHash
	c.mu.Unlock()

	return DryRunResult{
		Success:        true,
		Validation:     v,
		IntentHash:     compiled.IntentHash,
		Bridges:        compiled.Bridges,
		OverlayDevices: compiled.OverlayDevices,
		FirewallRules:  compiled.FirewallRules,
		Commands:       compiled.CommandLines(),
		Changed:        compiled.IntentHash != current,
	}
}

// ─── Apply ──────────────────────────────────────────────────────────────────

// ApplyOutcome is the terminal state of an ApplyIntent call.
type ApplyOutcome string

const (
	OutcomeApplied ApplyOutcome = "applied"
	OutcomeNoop    ApplyOutcome = "no-op"
	OutcomeError   ApplyOutcome = "error"
)

// ApplyResult reports what ApplyIntent did.
type ApplyResult struct {
	Outcome          ApplyOutcome      `json:"outcome"`
	Success          bool              `json:"success"`
	Message          string            `json:"message"`
	ApplyID          string            `json:"applyId"`
	IntentHash       string            `json:"intentHash,omitempty"`
	Segments         []string          `json:"segments,omitempty"`
	Overlays         []string          `json:"overlays,omitempty"`
	CommandsExecuted int               `json:"commandsExecuted"`
	AppliedAt        *time.Time        `json:"appliedAt,omitempty"`
	Validation       *ValidationResult `json:"validation,omitempty"`
	Warnings         []string          `json:"warnings,omitempty"`
}

// ApplyIntent validates, compiles and executes intent. If the compiled hash
// matches the applied one and force is false, nothing is executed. The
// persisted record only advances after every command has succeeded.
//
// The whole sequence runs under the controller lock, so concurrent applies
// are serialized.
func (c *Controller) ApplyIntent(ctx context.Context, intent *TopologyIntent, force bool) (ApplyResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	applyID := uuid.NewString()
	log := c.log.With("apply_id", applyID, "intent", intent.Name, "version", intent.Version)

	res := ApplyResult{
		ApplyID:  applyID,
		Segments: intent.SegmentNames(),
		Overlays: intent.OverlayIDs(),
	}

	v := c.ValidateIntent(intent)
	if !v.Valid {
		c.metrics.Applies.WithLabelValues("invalid").Inc()
		log.Warnw("apply rejected, intent invalid", "errors", v.Errors)
		res.Outcome = OutcomeError
		res.Message = "validation failed"
		res.Validation = &v
		return res, fmt.Errorf("%w: %d problem(s)", ErrInvalidIntent, len(v.Errors))
	}

	compiled := CompileAt(intent, c.now())
	res.IntentHash = compiled.IntentHash

	if !force && compiled.IntentHash == c.applied.record.IntentHash {
		c.metrics.Applies.WithLabelValues("noop").Inc()
		// After a restart only the record survives; adopt the compiled form so
		// health checks have something to compare against.
		if c.applied.compiled == nil {
			c.applied.intent = cloneIntent(intent)
			c.applied.compiled = compiled
		}
		log.Infow("intent unchanged, skipping apply", "hash", compiled.IntentHash)
		res.Outcome = OutcomeNoop
		res.Success = true
		res.Message = "no changes"
		res.AppliedAt = c.applied.record.AppliedAt
		return res, nil
	}

	log.Infow("applying intent", "hash", compiled.IntentHash, "commands", len(compiled.Commands), "force", force)

	executed, err := c.execute(ctx, compiled)
	res.CommandsExecuted = executed
	if err != nil {
		c.metrics.Applies.WithLabelValues("failed").Inc()
		log.Errorw("apply failed, state not advanced", "executed", executed, "error", err)
		res.Outcome = OutcomeError
		res.Message = err.Error()
		return res, err
	}

	appliedAt := c.now()
	c.applied.intent = cloneIntent(intent)
	c.applied.compiled = compiled
	c.applied.applyCount++
	c.applied.record = AppliedRecord{
		IntentName:    intent.Name,
		IntentVersion: intent.Version,
		AppliedAt:     &appliedAt,
		IntentHash:    compiled.IntentHash,
	}
	c.metrics.Applies.WithLabelValues("applied").Inc()
	c.metrics.LastApplied.Set(float64(appliedAt.Unix()))

	if c.recordOnly {
		log.Infow("commands recorded only, state not persisted")
	} else {
		if err := c.state.save(c.applied.record); err != nil {
			log.Errorw("failed to persist controller state", "error", err)
			res.Warnings = append(res.Warnings, err.Error())
		}
		if err := c.archiveCompiled(compiled); err != nil {
			log.Warnw("failed to archive compiled topology", "error", err)
			res.Warnings = append(res.Warnings, err.Error())
		}
	}

	log.Infow("intent applied", "hash", compiled.IntentHash, "apply_count", c.applied.applyCount)

	res.Outcome = OutcomeApplied
	res.Success = true
	res.Message = "applied"
	res.AppliedAt = &appliedAt
	return res, nil
}

// execute runs the command plan in order and stops at the first failure.
// It returns the number of commands that succeeded.
func (c *Controller) execute(ctx context.Context, compiled *CompiledTopology) (int, error) {
	for i, cmd := range compiled.Commands {
		cctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
		out, err := c.exec.Execute(cctx, cmd)
		cancel()

		if err != nil {
			return i, &ApplyExecutionError{Index: i, Command: cmd, ExitCode: out.ExitCode, Stderr: out.Stderr, Err: err}
		}
		if out.ExitCode != 0 {
			return i, &ApplyExecutionError{Index: i, Command: cmd, ExitCode: out.ExitCode, Stderr: out.Stderr}
		}
		c.log.Debugw("command executed", "index", i, "command", cmd.String())
	}
	return len(compiled.Commands), nil
}

func (c *Controller) archiveCompiled(compiled *CompiledTopology) error {
	if c.archive == nil {
		return nil
	}
	raw, err := json.MarshalIndent(compiled, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling compiled topology: %w", err)
	}
	d, err := digest.Parse(compiled.IntentHash)
	if err != nil {
		return fmt.Errorf("parsing intent hash: %w", err)
	}
	return c.archive.Put(d, raw)
}

// restoreCompiled fetches the compiled topology for hash from the archive
// so drift checks work after a restart. Returns nil if unavailable.
func (c *Controller) restoreCompiled(hash string) *CompiledTopology {
	if c.archive == nil {
		return nil
	}
	d, err := digest.Parse(hash)
	if err != nil {
		c.log.Warnw("persisted intent hash is not a digest", "hash", hash, "error", err)
		return nil
	}
	raw, err := c.archive.Get(d)
	if err != nil {
		c.log.Warnw("compiled topology not in archive, drift checks need a re-apply", "hash", hash, "error", err)
		return nil
	}
	var compiled CompiledTopology
	if err := json.Unmarshal(raw, &compiled); err != nil {
		c.log.Warnw("corrupt archived topology", "hash", hash, "error", err)
		return nil
	}
	return &compiled
}

func cloneIntent(in *TopologyIntent) *TopologyIntent {
	out := *in
	out.Segments = append([]Segment(nil), in.Segments...)
	out.Overlays = append([]OverlayLink(nil), in.Overlays...)
	out.Policies = append([]PolicyRule(nil), in.Policies...)
	if in.Metadata != nil {
		out.Metadata = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// ─── Read Projections ───────────────────────────────────────────────────────

// TopologyView is a read-only projection of the applied intent.
type TopologyView struct {
	Active      bool       `json:"active"`
	Name        string     `json:"name,omitempty"`
	Version     string     `json:"version,omitempty"`
	IntentHash  string     `json:"intentHash,omitempty"`
	AppliedAt   *time.Time `json:"appliedAt,omitempty"`
	Segments    []string   `json:"segments,omitempty"`
	Overlays    []string   `json:"overlays,omitempty"`
	PolicyCount int        `json:"policyCount"`
}

// Topology returns the last applied topology, or Active=false if nothing
// has ever been applied.
func (c *Controller) Topology() TopologyView {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.applied.record
	if rec.IntentHash == "" {
		return TopologyView{Active: false}
	}

	view := TopologyView{
		Active:     true,
		Name:       rec.IntentName,
		Version:    rec.IntentVersion,
		IntentHash: rec.IntentHash,
		AppliedAt:  rec.AppliedAt,
	}
	switch {
	case c.applied.intent != nil:
		view.Segments = c.applied.intent.SegmentNames()
		view.Overlays = c.applied.intent.OverlayIDs()
		view.PolicyCount = len(c.applied.intent.Policies)
	case c.applied.compiled != nil:
		view.Segments = c.applied.compiled.SegmentNames()
		view.Overlays = c.applied.compiled.OverlayIDs()
		view.PolicyCount = c.applied.compiled.PolicyCount()
	}
	return view
}

// StatusView summarizes controller metadata.
type StatusView struct {
	HasIntent   bool       `json:"hasIntent"`
	IntentHash  string     `json:"intentHash,omitempty"`
	LastApplied *time.Time `json:"lastApplied"`
	ApplyCount  int        `json:"applyCount"`
	Segments    []string   `json:"segments"`
}

// Status returns controller metadata.
func (c *Controller) Status() StatusView {
	c.mu.Lock()
	defer c.mu.Unlock()

	view := StatusView{
		HasIntent:   c.applied.record.IntentHash != "",
		IntentHash:  c.applied.record.IntentHash,
		LastApplied: c.applied.record.AppliedAt,
		ApplyCount:  c.applied.applyCount,
		Segments:    []string{},
	}
	switch {
	case c.applied.intent != nil:
		view.Segments = c.applied.intent.SegmentNames()
	case c.applied.compiled != nil:
		view.Segments = c.applied.compiled.SegmentNames()
	}
	return view
}

// Compiled returns a copy of the last applied compiled topology, or nil.
func (c *Controller) Compiled() *CompiledTopology {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied.compiled.Clone()
}

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthReport is the result of CheckHealth.
type HealthReport struct {
	Healthy            bool         `json:"healthy"`
	Message            string       `json:"message,omitempty"`
	IntentHash         string       `json:"intentHash,omitempty"`
	Drift              *DriftReport `json:"drift,omitempty"`
	LiveBridges        int          `json:"liveBridges"`
	LiveOverlayDevices int          `json:"liveOverlayDevices"`
	LiveRoutes         int          `json:"liveRoutes"`
	SegmentRoutes      int          `json:"segmentRoutes"` // routes inside an applied segment
	Unknown            []string     `json:"unknown,omitempty"`
	CheckedAt          time.Time    `json:"checkedAt"`
}

// CheckHealth compares the last applied topology with live state. It does
// not hold the apply lock while querying, so it can run during an apply.
// Unknown resource classes do not make the topology unhealthy.
func (c *Controller) CheckHealth(ctx context.Context) HealthReport {
	c.mu.Lock()
	compiled := c.applied.compiled
	hash := c.applied.record.IntentHash
	c.mu.Unlock()

	report := HealthReport{Healthy: true, IntentHash: hash, CheckedAt: c.now()}

	if compiled == nil {
		report.Message = "no topology applied"
		if hash != "" {
			report.Message = "topology applied before restart; re-apply to track drift"
		}
		return report
	}

	live := c.reconciler.CurrentState(ctx)
	drift := c.reconciler.DetectDrift(compiled, live)

	report.Healthy = !drift.HasDrift
	report.Drift = &drift
	report.LiveBridges = len(live.Bridges)
	report.LiveOverlayDevices = len(live.OverlayDevices)
	report.LiveRoutes = len(live.Routes)
	report.SegmentRoutes = segmentRoutes(compiled, live.Routes)
	report.Unknown = live.Unknown
	if drift.HasDrift {
		report.Message = "drift detected"
	}
	return report
}

// segmentRoutes counts live routes whose destination falls inside one of
// the compiled segments.
func segmentRoutes(compiled *CompiledTopology, routes []RouteInfo) int {
	space := ipam.NewSpace()
	for _, b := range compiled.Bridges {
		if p, err := ipam.ParsePrefix(b.CIDR); err == nil {
			space.Add(b.Segment, p)
		}
	}

	n := 0
	for _, r := range routes {
		p, err := netip.ParsePrefix(r.Destination)
		if err != nil {
			continue
		}
		if space.Owner(p.Addr()) != "" {
			n++
		}
	}
	return n
}
