// Package stream broadcasts session events to remote viewers over a gRPC
// server stream.
//
// Each event is sent as a google.protobuf.Struct so viewers need no
// generated stubs. Slow subscribers lose events rather than stall the
// router; drops are counted and logged with the periodic stats.
package stream

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/anchorplace/internal/monitoring"
	"github.com/banshee-data/anchorplace/internal/session"
	"github.com/banshee-data/anchorplace/internal/timeutil"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

var logf = monitoring.Tagged("gRPC")

var _ session.Sink = (*Publisher)(nil)

// Config holds configuration for the event stream server.
type Config struct {
	// ListenAddr is the TCP address used by Start.
	ListenAddr string

	// QueueSize is the capacity of the shared publish queue.
	QueueSize int

	// ClientBuffer is the per-subscriber channel capacity.
	ClientBuffer int

	// MaxClients caps concurrent subscribers. 0 means unlimited.
	MaxClients int

	// StatsInterval is how often stats are logged. 0 disables them.
	StatsInterval time.Duration

	Clock timeutil.Clock
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    "localhost:50061",
		QueueSize:     100,
		ClientBuffer:  16,
		MaxClients:    8,
		StatsInterval: 30 * time.Second,
	}
}

// Stats are the publisher counters.
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Clients   int32  `json:"clients"`
}

type subscriber struct {
	id     string
	events chan *structpb.Struct
}

// Publisher implements session.Sink and serves the EventStream service.
type Publisher struct {
	config Config
	server *grpc.Server

	queue     chan *structpb.Struct
	clients   map[string]*subscriber
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	published   atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPublisher creates a Publisher. Zero config fields take their defaults.
func NewPublisher(cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Publisher{
		config:  cfg,
		queue:   make(chan *structpb.Struct, cfg.QueueSize),
		clients: make(map[string]*subscriber),
		stopCh:  make(chan struct{}),
	}
}

// Start listens on the configured TCP address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.config.ListenAddr, err)
	}
	return p.Serve(lis)
}

// Serve serves the stream on lis in the background until Stop.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.server = grpc.NewServer()
	p.server.RegisterService(&eventStreamServiceDesc, p)

	p.wg.Add(1)
	go p.broadcastLoop()

	if p.config.StatsInterval > 0 {
		p.wg.Add(1)
		go p.statsLoop()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logf("event stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			logf("server error: %v", err)
		}
	}()
	return nil
}

// Stop ends every subscription and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.server.GracefulStop()
	p.wg.Wait()
	logf("event stream stopped")
}

// Publish queues ev for every subscriber. A full queue drops the event.
// Publishing while stopped is a no-op.
func (p *Publisher) Publish(_ context.Context, ev session.Event) error {
	if !p.running.Load() {
		return nil
	}
	msg, err := EventToStruct(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Kind, err)
	}
	select {
	case p.queue <- msg:
		p.published.Add(1)
	default:
		dropped := p.dropped.Add(1)
		logf("DROPPED %s event %s (total dropped: %d), queue full", ev.Kind, ev.ID, dropped)
	}
	return nil
}

// Stats returns the current counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Clients:   p.clientCount.Load(),
	}
}

// ClientCount is the number of connected subscribers.
func (p *Publisher) ClientCount() int { return int(p.clientCount.Load()) }

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case msg := <-p.queue:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				select {
				case c.events <- msg:
				default:
					// Slow subscriber.
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) statsLoop() {
	defer p.wg.Done()
	ticker := p.config.Clock.NewTicker(p.config.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C():
			s := p.Stats()
			logf("Stats: published=%d dropped=%d clients=%d queue=%d/%d",
				s.Published, s.Dropped, s.Clients, len(p.queue), cap(p.queue))
		}
	}
}

func (p *Publisher) addClient() (*subscriber, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("subscriber limit %d reached", p.config.MaxClients)
	}
	c := &subscriber{
		id:     fmt.Sprintf("sub-%d", p.nextID.Add(1)),
		events: make(chan *structpb.Struct, p.config.ClientBuffer),
	}
	p.clients[c.id] = c
	n := p.clientCount.Add(1)
	logf("Client connected: %s (total: %d)", c.id, n)
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	_, ok := p.clients[id]
	delete(p.clients, id)
	p.clientsMu.Unlock()
	if ok {
		n := p.clientCount.Add(-1)
		logf("Client disconnected: %s (remaining: %d)", id, n)
	}
}
