package network

import (
	"context"
	"sync"
	"time"
)

// threeTier returns a valid frontend/backend/database intent.
func threeTier() *TopologyIntent {
	return &TopologyIntent{
		Version: "1.0.0",
		Name:    "three-tier",
		Segments: []Segment{
			{Name: "frontend", CIDR: "10.10.0.0/24", Role: RoleFrontend, Zone: ZoneDMZ},
			{Name: "backend", CIDR: "10.20.0.0/24", Role: RoleBackend},
			{Name: "database", CIDR: "10.30.0.0/24", Role: RoleDatabase, Zone: ZoneTrusted},
		},
		Overlays: []OverlayLink{
			{Src: "frontend", Dst: "backend"},
			{Src: "backend", Dst: "database"},
		},
		Policies: []PolicyRule{
			{Name: "allow-web", Priority: 100, Action: ActionAllow, SrcSegment: "frontend", Protocol: ProtocolTCP, Port: 80},
			{Name: "allow-app", Priority: 200, Action: ActionAllow, SrcSegment: "frontend", DstSegment: "backend", Protocol: ProtocolTCP, Port: 8080},
			{Name: "allow-db", Priority: 300, Action: ActionAllow, SrcSegment: "backend", DstSegment: "database", Protocol: ProtocolTCP, Port: 5432},
		},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// fakeExecutor records commands and fails the command at failAt (if >= 0).
type fakeExecutor struct {
	mu       sync.Mutex
	commands []Command
	failAt   int
	exitCode int
	err      error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{failAt: -1}
}

func (f *fakeExecutor) Execute(_ context.Context, cmd Command) (ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := len(f.commands)
	f.commands = append(f.commands, cmd)
	if i == f.failAt {
		if f.err != nil {
			return ExecResult{ExitCode: -1}, f.err
		}
		return ExecResult{ExitCode: f.exitCode, Stderr: "RTNETLINK answers: File exists"}, nil
	}
	return ExecResult{}, nil
}

func (f *fakeExecutor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands)
}

// fakeIntrospector returns fixed live state. A non-nil error for a resource
// fails that query; block makes a query wait for its context.
type fakeIntrospector struct {
	bridges  []LinkInfo
	overlays []LinkInfo
	routes   []RouteInfo

	bridgeErr  error
	overlayErr error
	routeErr   error
	blockRoute bool
}

func (f *fakeIntrospector) ListBridges(context.Context) ([]LinkInfo, error) {
	return f.bridges, f.bridgeErr
}

func (f *fakeIntrospector) ListOverlayDevices(context.Context) ([]LinkInfo, error) {
	return f.overlays, f.overlayErr
}

func (f *fakeIntrospector) ListRoutes(ctx context.Context) ([]RouteInfo, error) {
	if f.blockRoute {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.routes, f.routeErr
}

// liveFor returns an introspector whose state matches compiled exactly.
func liveFor(compiled *CompiledTopology) *fakeIntrospector {
	f := &fakeIntrospector{}
	for _, b := range compiled.Bridges {
		f.bridges = append(f.bridges, LinkInfo{Name: b.Name, Kind: "bridge", Up: true})
		f.routes = append(f.routes, RouteInfo{Destination: b.CIDR, Device: b.Name})
	}
	for _, d := range compiled.OverlayDevices {
		f.overlays = append(f.overlays, LinkInfo{Name: d.Name, Kind: string(d.Encapsulation), Master: d.Bridge, Up: true})
	}
	return f
}
