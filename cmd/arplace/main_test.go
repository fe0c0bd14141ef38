package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/banshee-data/anchorplace/internal/journal"
	"github.com/banshee-data/anchorplace/internal/session"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	exampleScenario = "../../config/scenario.example.json"
	defaultsConfig  = "../../config/placement.defaults.json"
)

func TestReplay_ExampleScenario(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	sum, err := replay(context.Background(), options{
		ConfigPath:   defaultsConfig,
		ScenarioPath: exampleScenario,
		DBPath:       dbPath,
		GRPCListen:   "127.0.0.1:0",
	})
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Replay.Frames)
	assert.Equal(t, 4, sum.Replay.Taps)
	assert.Equal(t, 3, sum.Replay.Edits)
	assert.Equal(t, 3, sum.Replay.TrackingFailures)
	// Both no-hit taps report an error; nothing else does.
	assert.Len(t, sum.Replay.Errors, 2)
	assert.Contains(t, sum.Replay.Errors, 6)
	assert.Contains(t, sum.Replay.Errors, 12)

	assert.Equal(t, 2, sum.Stats.Placed)
	assert.Equal(t, 2, sum.Stats.InstancesIssued)
	assert.Equal(t, 8, sum.Stats.InstancesRemaining)
	assert.Equal(t, "placed", sum.Stats.Phase)
	assert.True(t, sum.Stats.HasAutoPlaced)
	assert.False(t, sum.Stats.PlaneVisualization)

	j, err := journal.Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	events, err := j.ListEvents(context.Background(), journal.EventFilter{SessionID: sum.SessionID})
	require.NoError(t, err)
	var kinds []session.Kind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	want := []session.Kind{
		session.KindSessionStarted,
		session.KindTrackingFailure,
		session.KindPlaced,
		session.KindTrackingFailure,
		session.KindPlaneVisualization,
		session.KindPlaced,
		session.KindEditChanged,
		session.KindEditChanged,
		session.KindEditChanged,
		session.KindTapIgnored,
		session.KindTrackingFailure,
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("journaled kinds mismatch (-want +got):\n%s", diff)
	}

	placements, err := j.ListPlacements(context.Background(), sum.SessionID)
	require.NoError(t, err)
	require.Len(t, placements, 2)
	assert.Equal(t, "plane", placements[0].Source)
	assert.Equal(t, "tap", placements[1].Source)
	assert.Equal(t, 1, placements[1].EditCount)
}

func TestReplay_NoSinks(t *testing.T) {
	sum, err := replay(context.Background(), options{ScenarioPath: exampleScenario})
	require.NoError(t, err)
	assert.NotEmpty(t, sum.SessionID)
	assert.Equal(t, 2, sum.Stats.Placed)
}

func TestReplay_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts options
	}{
		{"missing scenario", options{ScenarioPath: "does-not-exist.json"}},
		{"wrong scenario extension", options{ScenarioPath: "main.go"}},
		{"missing config", options{ConfigPath: "nope.json", ScenarioPath: exampleScenario}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, run(context.Background(), tt.opts))
		})
	}
}

func TestReplay_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := run(ctx, options{ScenarioPath: exampleScenario})
	assert.ErrorIs(t, err, context.Canceled)
}
