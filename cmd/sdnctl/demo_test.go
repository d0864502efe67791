package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glennswest/microsdn/pkg/config"
	"github.com/glennswest/microsdn/pkg/network"
	"github.com/glennswest/microsdn/pkg/network/topology"
)

func TestDemo(t *testing.T) {
	t.Setenv(config.EnvPath, "")

	var out bytes.Buffer
	cmd := newDemo(&globalOpts{})
	cmd.SetArgs([]string{})
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	require.NoError(t, cmd.ExecuteContext(context.Background()))

	got := out.String()
	for _, step := range []string{
		"── topology (before apply) ──",
		"── validate ──",
		"── dry-run ──",
		"── apply ──",
		"── apply (unchanged) ──",
		"── topology (after apply) ──",
		"── status ──",
	} {
		assert.Contains(t, got, step)
	}
	assert.Contains(t, got, `"outcome": "applied"`)
	assert.Contains(t, got, `"outcome": "no-op"`)
	assert.Contains(t, got, `"message": "no changes"`)

	// Only the first apply reaches the recorder.
	plan := network.Compile(topology.Demo())
	assert.Contains(t, got, fmt.Sprintf("── recorded commands (%d) ──", len(plan.Commands)))
	tail := got[strings.Index(got, "── recorded commands"):]
	for _, line := range plan.CommandLines() {
		assert.Contains(t, tail, line)
	}
}
