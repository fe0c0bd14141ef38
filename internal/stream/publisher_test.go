package stream

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/anchorplace/internal/monitoring"
	"github.com/banshee-data/anchorplace/internal/session"
	"github.com/banshee-data/anchorplace/internal/timeutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func startBufconn(t *testing.T, cfg Config) (*Publisher, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	pub := NewPublisher(cfg)
	require.NoError(t, pub.Serve(lis))
	t.Cleanup(pub.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return pub, conn
}

func testEvent(kind session.Kind, n int) session.Event {
	return session.Event{
		ID:                 "ev-" + string(kind),
		SessionID:          "s1",
		Kind:               kind,
		Time:               time.Date(2026, 4, 2, 8, 0, n, 123456789, time.UTC),
		InstancesIssued:    n,
		InstancesRemaining: 10 - n,
	}
}

func TestEventStructRoundTrip(t *testing.T) {
	ev := session.Event{
		ID:                 "e1",
		SessionID:          "s1",
		Kind:               session.KindPlaced,
		Time:               time.Date(2026, 4, 2, 8, 0, 0, 42, time.UTC),
		ObjectID:           "obj",
		Source:             "tap",
		InstancesIssued:    3,
		InstancesRemaining: 7,
		Detail:             "pos(0.000, 0.000, -1.000)",
	}
	s, err := EventToStruct(ev)
	require.NoError(t, err)
	assert.NotContains(t, s.GetFields(), "reason")

	got, err := EventFromStruct(s)
	require.NoError(t, err)
	if diff := cmp.Diff(ev, got); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestEventFromStruct_Invalid(t *testing.T) {
	s, err := EventToStruct(session.Event{ID: "x"})
	require.NoError(t, err)
	_, err = EventFromStruct(s)
	assert.Error(t, err, "missing kind")

	s, err = EventToStruct(session.Event{ID: "x", Kind: session.KindPlaced})
	require.NoError(t, err)
	s.Fields["time"] = structpb.NewStringValue("yesterday")
	_, err = EventFromStruct(s)
	assert.Error(t, err, "bad time")
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	pub, conn := startBufconn(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := Subscribe(ctx, conn)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	want := []session.Event{
		testEvent(session.KindSessionStarted, 0),
		testEvent(session.KindPlaced, 1),
		testEvent(session.KindTrackingFailure, 1),
	}
	for _, ev := range want {
		require.NoError(t, pub.Publish(ctx, ev))
	}

	var got []session.Event
	for range want {
		ev, err := sub.Recv()
		require.NoError(t, err)
		got = append(got, ev)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("streamed events mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(3), pub.Stats().Published)
}

func TestSubscribe_FanOut(t *testing.T) {
	pub, conn := startBufconn(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := Subscribe(ctx, conn)
	require.NoError(t, err)
	b, err := Subscribe(ctx, conn)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.ClientCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, pub.Publish(ctx, testEvent(session.KindPlaced, 1)))
	for _, sub := range []*Subscription{a, b} {
		ev, err := sub.Recv()
		require.NoError(t, err)
		assert.Equal(t, session.KindPlaced, ev.Kind)
	}
}

func TestSubscribe_MaxClients(t *testing.T) {
	pub, conn := startBufconn(t, Config{MaxClients: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Subscribe(ctx, conn)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	second, err := Subscribe(ctx, conn)
	require.NoError(t, err)
	_, err = second.Recv()
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestSubscribe_ClientCancelRemovesClient(t *testing.T) {
	pub, conn := startBufconn(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := Subscribe(ctx, conn)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return pub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStopEndsStream(t *testing.T) {
	pub, conn := startBufconn(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := Subscribe(ctx, conn)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	pub.Stop()
	_, err = sub.Recv()
	assert.ErrorIs(t, err, io.EOF)

	// Stopped publishers accept and discard events.
	assert.NoError(t, pub.Publish(ctx, testEvent(session.KindPlaced, 1)))
	pub.Stop()
}

func TestPublish_DropsWhenQueueFull(t *testing.T) {
	// Not serving: fill the queue by hand.
	pub := NewPublisher(Config{QueueSize: 1})
	pub.running.Store(true)

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, testEvent(session.KindPlaced, 1)))
	require.NoError(t, pub.Publish(ctx, testEvent(session.KindPlaced, 2)))

	s := pub.Stats()
	assert.Equal(t, uint64(1), s.Published)
	assert.Equal(t, uint64(1), s.Dropped)
}

func TestStatsLoopLogs(t *testing.T) {
	rec := &monitoring.Recorder{}
	prev := monitoring.Logf
	monitoring.SetLogger(rec.Logf)
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	clock := timeutil.NewMockClock(time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC))
	_, _ = startBufconn(t, Config{StatsInterval: time.Second, Clock: clock})

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		for _, line := range rec.Lines() {
			if strings.HasPrefix(line, "[gRPC] Stats: published=0 dropped=0 clients=0") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublisherAsSink(t *testing.T) {
	var sink session.Sink = session.MultiSink{NewPublisher(Config{})}
	assert.NoError(t, sink.Publish(context.Background(), testEvent(session.KindTapIgnored, 0)))
}
