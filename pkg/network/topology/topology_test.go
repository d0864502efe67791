package topology

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glennswest/microsdn/pkg/network"
)

const yamlIntent = `
version: "2"
name: lab
segments:
  - name: web
    cidr: 192.168.10.0/24
    role: frontend
    dhcp:
      enabled: false
  - name: app
    cidr: 192.168.20.0/24
    role: backend
    vlan: 20
overlays:
  - src: web
    dst: app
    encapsulation: geneve
policies:
  - name: web-to-app
    priority: 10
    action: allow
    srcSegment: web
    dstSegment: app
    protocol: tcp
    portRange: 8000-8090
`

const jsonIntent = `{
  "version": "1",
  "name": "lab",
  "segments": [
    {"name": "web", "cidr": "192.168.10.0/24", "role": "frontend", "dhcp": {"enabled": false}}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	intent, err := Load(writeFile(t, "lab.yaml", yamlIntent))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if intent.Name != "lab" || intent.Version != "2" {
		t.Errorf("unexpected name/version %q/%q", intent.Name, intent.Version)
	}
	if len(intent.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(intent.Segments))
	}
	if intent.Segments[1].VLAN != 20 {
		t.Errorf("expected vlan 20, got %d", intent.Segments[1].VLAN)
	}
	if intent.Overlays[0].Encapsulation != network.EncapGeneve {
		t.Errorf("expected geneve, got %q", intent.Overlays[0].Encapsulation)
	}
	if intent.Policies[0].PortRange != "8000-8090" {
		t.Errorf("expected port range 8000-8090, got %q", intent.Policies[0].PortRange)
	}
	if err := intent.Validate(); err != nil {
		t.Errorf("loaded intent should be valid: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	intent, err := Load(writeFile(t, "lab.json", jsonIntent))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(intent.Segments) != 1 || intent.Segments[0].Name != "web" {
		t.Errorf("unexpected segments %+v", intent.Segments)
	}
}

func TestLoadUnknownField(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "name: lab\nsegmnts: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}

	_, err = Load(writeFile(t, "bad.json", `{"name": "lab", "segmnts": []}`))
	if err == nil {
		t.Fatal("expected error for unknown JSON field")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "missing.yaml") {
		t.Fatalf("expected error naming the file, got %v", err)
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"intent.yaml", FormatYAML},
		{"intent.yml", FormatYAML},
		{"intent.json", FormatJSON},
		{"INTENT.JSON", FormatJSON},
		{"intent", FormatYAML},
	}
	for _, tt := range tests {
		if got := FormatFor(tt.path); got != tt.want {
			t.Errorf("FormatFor(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestDemoIsValid(t *testing.T) {
	d := Demo()
	if err := d.Validate(); err != nil {
		t.Fatalf("demo intent invalid: %v", err)
	}

	if got := len(d.Segments); got != 3 {
		t.Errorf("expected 3 segments, got %d", got)
	}
	if got := len(d.Overlays); got != 2 {
		t.Errorf("expected 2 overlays, got %d", got)
	}
	if got := len(d.Policies); got != 3 {
		t.Errorf("expected 3 policies, got %d", got)
	}

	want := map[string]string{
		"frontend": "10.10.0.0/24",
		"backend":  "10.20.0.0/24",
		"database": "10.30.0.0/24",
	}
	for _, s := range d.Segments {
		if want[s.Name] != s.CIDR {
			t.Errorf("segment %s: cidr %s, want %s", s.Name, s.CIDR, want[s.Name])
		}
	}
}

func TestDemoHashIgnoresCreatedAt(t *testing.T) {
	a, b := Demo(), Demo()
	b.CreatedAt = a.CreatedAt.Add(1)
	if network.HashIntent(a) != network.HashIntent(b) {
		t.Error("demo hash changed with creation time")
	}
}
