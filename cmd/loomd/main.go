package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"golang.org/x/time/rate"

	"github.com/loomwork/loom/engine"
	streampulse "github.com/loomwork/loom/features/stream/pulse"
	clientspulse "github.com/loomwork/loom/features/stream/pulse/clients/pulse"
	graphmem "github.com/loomwork/loom/graph/inmem"
	"github.com/loomwork/loom/manifest"
	"github.com/loomwork/loom/review"
	runmem "github.com/loomwork/loom/run/inmem"
	"github.com/loomwork/loom/service"
	"github.com/loomwork/loom/stream"
	"github.com/loomwork/loom/telemetry"
	"github.com/loomwork/loom/tools"
)

func main() {
	// Define command line flags, add any other flag required to configure the
	// service.
	var (
		httpPortF     = flag.String("http-port", "8080", "HTTP listen port")
		dbgF          = flag.Bool("debug", false, "Log request and response bodies")
		manifestF     = flag.String("manifest", "", "Path to a YAML graph manifest loaded at startup")
		redisF        = flag.String("redis-addr", "", "Redis address for publishing run events (disabled when empty)")
		streamMaxLenF = flag.Int("stream-max-len", 1000, "Maximum entries kept per run event stream")
		runRateF      = flag.Float64("run-rate", 0, "Sustained run submissions per second (0 disables limiting)")
		runBurstF     = flag.Int("run-burst", 1, "Run submission burst size")
		toolTimeoutF  = flag.Duration("tool-timeout", 0, "Per-tool execution timeout (0 disables)")
		maxStepsF     = flag.Int("max-steps", engine.DefaultMaxSteps, "Default step budget for runs that do not specify one")
	)
	flag.Parse()

	// Setup logger. Replace logger with your own log package of choice.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	log.Print(ctx, log.KV{K: "http-port", V: *httpPortF})

	// Initialize the stores and the tool registry. The code review toolset
	// ships built in; manifests add more graphs over the same tools.
	graphs := graphmem.New()
	runs := runmem.New()
	registry := tools.NewRegistry()
	review.Register(registry)

	if _, err := graphs.Create(ctx, review.GraphDefinition()); err != nil {
		log.Fatalf(ctx, err, "create %s graph", review.GraphName)
	}
	if *manifestF != "" {
		defs, err := manifest.Load(*manifestF)
		if err != nil {
			log.Fatalf(ctx, err, "load manifest %q", *manifestF)
		}
		for _, def := range defs {
			if _, err := graphs.Create(ctx, def); err != nil {
				log.Fatalf(ctx, err, "create graph %q", def.Name)
			}
			log.Printf(ctx, "registered graph %q from manifest", def.Name)
		}
	}

	// Wire the optional Redis-backed event stream.
	var (
		sink    stream.Sink
		pingers []health.Pinger
	)
	if *redisF != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisF})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf(ctx, err, "ping redis at %q", *redisF)
		}
		cli, err := clientspulse.New(clientspulse.Options{
			Redis:        rdb,
			StreamMaxLen: *streamMaxLenF,
		})
		if err != nil {
			log.Fatalf(ctx, err, "initialize pulse client")
		}
		streams, err := streampulse.NewStreams(streampulse.StreamsOptions{Client: cli})
		if err != nil {
			log.Fatalf(ctx, err, "initialize pulse streams")
		}
		sink = streams.Sink()
		pingers = append(pingers, redisPinger{rdb: rdb})
		log.Printf(ctx, "publishing run events to redis streams at %q", *redisF)
	}

	// Initialize the engine and the service.
	engineOpts := []engine.Option{
		engine.WithLogger(telemetry.NewClueLogger()),
		engine.WithMetrics(telemetry.NewClueMetrics()),
		engine.WithTracer(telemetry.NewClueTracer()),
	}
	if *maxStepsF > 0 {
		engineOpts = append(engineOpts, engine.WithDefaultMaxSteps(*maxStepsF))
	}
	if *toolTimeoutF > 0 {
		engineOpts = append(engineOpts, engine.WithToolTimeout(*toolTimeoutF))
	}
	if sink != nil {
		engineOpts = append(engineOpts, engine.WithSink(sink))
	}
	eng := engine.New(graphs, runs, registry, engineOpts...)

	svc, err := service.NewService(service.Options{
		Graphs:       graphs,
		Runs:         runs,
		Registry:     registry,
		Engine:       eng,
		RunRateLimit: rate.Limit(*runRateF),
		RunRateBurst: *runBurstF,
	})
	if err != nil {
		log.Fatalf(ctx, err, "initialize service")
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	// Setup interrupt handler. This optional step configures the process so
	// that SIGINT and SIGTERM signals cause the service to stop gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	handleHTTPServer(ctx, ":"+*httpPortF, svc, pingers, &wg, errc, *dbgF)

	// Wait for signal.
	log.Printf(ctx, "exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()

	wg.Wait()
	log.Printf(ctx, "exited")
}

// redisPinger adapts a Redis client to the health checker.
type redisPinger struct {
	rdb *redis.Client
}

// Name identifies the dependency in health reports.
func (p redisPinger) Name() string { return "redis" }

// Ping checks Redis connectivity.
func (p redisPinger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
