// Command arplace replays a recorded AR scenario through the placement core,
// journaling every event and optionally serving the monitor and the event
// stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/banshee-data/anchorplace/internal/ar/arsim"
	"github.com/banshee-data/anchorplace/internal/config"
	"github.com/banshee-data/anchorplace/internal/journal"
	"github.com/banshee-data/anchorplace/internal/monitor"
	"github.com/banshee-data/anchorplace/internal/placement"
	"github.com/banshee-data/anchorplace/internal/policy"
	"github.com/banshee-data/anchorplace/internal/pool"
	"github.com/banshee-data/anchorplace/internal/session"
	"github.com/banshee-data/anchorplace/internal/stream"
	"github.com/banshee-data/anchorplace/internal/version"
)

var (
	configPath   = flag.String("config", "", "Placement config JSON (built-in defaults when empty)")
	scenarioPath = flag.String("scenario", "config/scenario.example.json", "Scenario JSON to replay")
	dbPath       = flag.String("db", "anchorplace.db", "Journal sqlite path (empty disables the journal)")
	listen       = flag.String("listen", ":8090", "Monitor HTTP listen address (empty disables)")
	grpcListen   = flag.String("grpc-listen", "localhost:50061", "Event stream gRPC listen address (empty disables)")
	serve        = flag.Bool("serve", false, "Keep serving the monitor and stream after the replay until interrupted")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

type options struct {
	ConfigPath   string
	ScenarioPath string
	DBPath       string
	Listen       string
	GRPCListen   string
	Serve        bool
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("arplace", version.String())
		return
	}
	if *scenarioPath == "" {
		log.Fatal("Scenario path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, options{
		ConfigPath:   *configPath,
		ScenarioPath: *scenarioPath,
		DBPath:       *dbPath,
		Listen:       *listen,
		GRPCListen:   *grpcListen,
		Serve:        *serve,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("arplace: %v", err)
	}
}

// summary is what run reports back, for logging and tests.
type summary struct {
	SessionID string
	Replay    arsim.Result
	Stats     session.Stats
}

func run(ctx context.Context, opts options) error {
	_, err := replay(ctx, opts)
	return err
}

func replay(ctx context.Context, opts options) (summary, error) {
	cfg := config.DefaultPlacementConfig()
	if opts.ConfigPath != "" {
		loaded, err := config.LoadPlacementConfig(opts.ConfigPath)
		if err != nil {
			return summary{}, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	sc, err := arsim.LoadScenario(opts.ScenarioPath)
	if err != nil {
		return summary{}, fmt.Errorf("load scenario: %w", err)
	}

	var sinks session.MultiSink

	var jrnl *journal.Journal
	if opts.DBPath != "" {
		jrnl, err = journal.Open(opts.DBPath)
		if err != nil {
			return summary{}, err
		}
		defer jrnl.Close()
		sinks = append(sinks, jrnl)
	}

	var pub *stream.Publisher
	if opts.GRPCListen != "" {
		streamCfg := stream.DefaultConfig()
		streamCfg.ListenAddr = opts.GRPCListen
		pub = stream.NewPublisher(streamCfg)
		if err := pub.Start(); err != nil {
			return summary{}, fmt.Errorf("start event stream: %w", err)
		}
		defer pub.Stop()
		sinks = append(sinks, pub)
	}

	sim := arsim.NewSession(sc.DepthSupported)
	scene := arsim.NewScene()
	instances := pool.New(arsim.NewLoader(sc.Extents()))
	asset := pool.Asset{Path: cfg.GetModelPath(), MaxInstances: cfg.GetMaxInstances()}

	svc := placement.NewService(instances, scene, placement.Options{
		ScaleToUnits:     cfg.GetScaleToUnits(),
		BoundingBoxColor: cfg.GetBoundingBoxColor(),
	})
	router := session.NewRouter(session.Config{
		Policy:   policy.New(svc, scene, asset),
		Pool:     instances,
		Sink:     sinks,
		Features: cfg.GetFeaturePolicy(),
	})
	svc.SetEditObserver(router.OnEditChanged)

	var wg sync.WaitGroup
	serveCtx, cancelServe := context.WithCancel(ctx)
	defer func() {
		cancelServe()
		wg.Wait()
	}()
	if opts.Listen != "" {
		ws, err := monitor.NewWebServer(monitor.WebServerConfig{
			Address: opts.Listen,
			Status:  router,
			Stream:  publisherStats(pub),
			Journal: jrnl,
		})
		if err != nil {
			return summary{}, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(serveCtx); err != nil {
				log.Printf("monitor: %v", err)
			}
		}()
	}

	settings := router.Start(ctx, sim)
	log.Printf("scenario %q: session %s depth=%s", sc.Name, router.ID(), settings.DepthMode)

	res, err := arsim.NewPlayer(sc, sim, scene).Play(ctx, router)
	if err != nil {
		return summary{}, fmt.Errorf("replay %s: %w", opts.ScenarioPath, err)
	}
	stats := router.Stats()
	log.Printf("replay done: frames=%d taps=%d edits=%d tracking_failures=%d handler_errors=%d placed=%d remaining=%d",
		res.Frames, res.Taps, res.Edits, res.TrackingFailures, len(res.Errors), stats.Placed, stats.InstancesRemaining)

	if opts.Serve {
		log.Printf("serving until interrupted")
		<-ctx.Done()
	}
	return summary{SessionID: router.ID(), Replay: res, Stats: stats}, nil
}

// publisherStats avoids handing the monitor a typed nil.
func publisherStats(p *stream.Publisher) monitor.StreamSource {
	if p == nil {
		return nil
	}
	return p
}
