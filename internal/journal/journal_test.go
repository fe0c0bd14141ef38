package journal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/anchorplace/internal/session"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

var t0 = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

func TestOpen_MigratesToLatest(t *testing.T) {
	j := openTestJournal(t)

	version, dirty, err := j.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(LatestVersion), version)
	assert.False(t, dirty)

	var mode string
	require.NoError(t, j.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	// Re-running is a no-op.
	require.NoError(t, j.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	j := openTestJournal(t)
	require.NoError(t, j.MigrateDown())

	version, _, err := j.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	err = j.DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='placements'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, j.MigrateUp())
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Publish(context.Background(), session.Event{SessionID: "s", Kind: session.KindTapIgnored, Time: t0}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	events, err := j.ListEvents(context.Background(), EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPublishAndListEvents(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	in := []session.Event{
		{ID: "e1", SessionID: "s1", Kind: session.KindSessionStarted, Time: t0,
			InstancesRemaining: 10, Detail: "depth=automatic instant_placement=local_y_up light=environmental_hdr"},
		{ID: "e2", SessionID: "s1", Kind: session.KindPlaced, Time: t0.Add(time.Second),
			ObjectID: "obj-1", Source: "plane", InstancesIssued: 1, InstancesRemaining: 9, Detail: "pos(0.000, 0.000, -1.000)"},
		{ID: "e3", SessionID: "s1", Kind: session.KindTrackingFailure, Time: t0.Add(2 * time.Second),
			InstancesIssued: 1, InstancesRemaining: 9, Reason: "insufficient_light"},
		{ID: "e4", SessionID: "s2", Kind: session.KindTapIgnored, Time: t0.Add(3 * time.Second), Source: "tap"},
	}
	for _, ev := range in {
		require.NoError(t, j.Publish(ctx, ev))
	}

	all, err := j.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	if diff := cmp.Diff(in, all); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	s1, err := j.ListEvents(ctx, EventFilter{SessionID: "s1", Kind: session.KindPlaced})
	require.NoError(t, err)
	require.Len(t, s1, 1)
	assert.Equal(t, "obj-1", s1[0].ObjectID)

	limited, err := j.ListEvents(ctx, EventFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestPublish_FillsDefaults(t *testing.T) {
	j := openTestJournal(t)
	require.NoError(t, j.Publish(context.Background(), session.Event{SessionID: "s", Kind: session.KindPlacementFailed}))

	events, err := j.ListEvents(context.Background(), EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Time.IsZero())

	err = j.Publish(context.Background(), session.Event{Kind: session.KindPlaced})
	assert.Error(t, err, "session id is required")
}

func TestSessionsAndPlacements(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	events := []session.Event{
		{SessionID: "old", Kind: session.KindSessionStarted, Time: t0, Detail: "depth=disabled instant_placement=disabled light=disabled"},
		{SessionID: "new", Kind: session.KindSessionStarted, Time: t0.Add(time.Hour), Detail: "depth=automatic instant_placement=local_y_up light=environmental_hdr"},
		{SessionID: "new", Kind: session.KindPlaced, Time: t0.Add(time.Hour + time.Second), ObjectID: "a", Source: "plane"},
		{SessionID: "new", Kind: session.KindPlaced, Time: t0.Add(time.Hour + 2*time.Second), ObjectID: "b", Source: "tap"},
		{SessionID: "new", Kind: session.KindEditChanged, Time: t0.Add(time.Hour + 3*time.Second), ObjectID: "b", Reason: "editing_started", Detail: "move"},
		{SessionID: "new", Kind: session.KindEditChanged, Time: t0.Add(time.Hour + 4*time.Second), ObjectID: "b", Detail: "move+rotate"},
		{SessionID: "new", Kind: session.KindEditChanged, Time: t0.Add(time.Hour + 5*time.Second), ObjectID: "b", Reason: "editing_ended", Detail: "none"},
		{SessionID: "new", Kind: session.KindEditChanged, Time: t0.Add(time.Hour + 6*time.Second), ObjectID: "b", Reason: "editing_started", Detail: "scale"},
	}
	for _, ev := range events {
		require.NoError(t, j.Publish(ctx, ev))
	}

	sessions, err := j.ListSessions(ctx)
	require.NoError(t, err)
	want := []Session{
		{SessionID: "new", StartedAt: t0.Add(time.Hour), DepthMode: "automatic",
			InstantPlacementMode: "local_y_up", LightEstimationMode: "environmental_hdr", EventCount: 7},
		{SessionID: "old", StartedAt: t0, DepthMode: "disabled",
			InstantPlacementMode: "disabled", LightEstimationMode: "disabled", EventCount: 1},
	}
	if diff := cmp.Diff(want, sessions); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}

	placements, err := j.ListPlacements(ctx, "new")
	require.NoError(t, err)
	require.Len(t, placements, 2)
	assert.Equal(t, "a", placements[0].ObjectID)
	assert.Equal(t, 0, placements[0].EditCount)
	assert.Nil(t, placements[0].LastEdit)
	assert.Equal(t, "tap", placements[1].Source)
	assert.Equal(t, 2, placements[1].EditCount)
	require.NotNil(t, placements[1].LastEdit)
	assert.True(t, placements[1].LastEdit.Equal(t0.Add(time.Hour+6*time.Second)))

	counts, err := j.CountByKind(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, map[session.Kind]int{
		session.KindSessionStarted: 1,
		session.KindPlaced:         2,
		session.KindEditChanged:    4,
	}, counts)

	tables, err := j.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"sessions": 2, "events": 8, "placements": 2}, tables)
}

func TestJournalAsRouterSink(t *testing.T) {
	j := openTestJournal(t)
	var sink session.Sink = session.MultiSink{j}
	require.NoError(t, sink.Publish(context.Background(), session.Event{SessionID: "s", Kind: session.KindTrackingFailure, Reason: "bad_state"}))

	got, err := j.ListEvents(context.Background(), EventFilter{Kind: session.KindTrackingFailure})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bad_state", got[0].Reason)
}

func TestAttachAdminRoutes(t *testing.T) {
	j := openTestJournal(t)
	mux := http.NewServeMux()
	require.NoError(t, j.AttachAdminRoutes(mux))

	// Debug routes may refuse non-tailnet callers, but must be registered.
	for _, endpoint := range []string{"/debug/tailsql/", "/debug/backup", "/debug/journal-stats"} {
		t.Run(endpoint, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, endpoint, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code == http.StatusNotFound {
				t.Errorf("endpoint %s should be registered, got 404", endpoint)
			}
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(func() error {
		calls++
		if calls < 3 {
			return errString("SQLITE_BUSY: database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retryOnBusy(func() error { calls++; return errString("constraint failed") })
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

type errString string

func (e errString) Error() string { return string(e) }
