// Command execd runs the order execution pipeline: market data
// ingestion, the HTTP order entry API, the staged order pipeline and
// the audit sinks.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/yanun0323/logs"

	"execpipe/internal/api"
	"execpipe/internal/audit"
	"execpipe/internal/bus"
	"execpipe/internal/compliance"
	"execpipe/internal/execution"
	"execpipe/internal/execution/venuesim"
	"execpipe/internal/ingest"
	"execpipe/internal/ingest/feedsim"
	"execpipe/internal/ingest/wsfeed"
	"execpipe/internal/intake"
	"execpipe/internal/obs"
	"execpipe/internal/og"
	"execpipe/internal/ops"
	"execpipe/internal/pipeline"
	"execpipe/internal/postexec"
	"execpipe/internal/risk"
	"execpipe/internal/router"
	"execpipe/internal/schema"
	"execpipe/internal/state"
	"execpipe/pkg/conn"
)

const tickQueueCapacity = 4096

func main() {
	configPath := flag.String("config", "config/execpipe.json", "Path to JSON config")
	envFile := flag.String("env", "", "Optional .env file")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("load env file: %v", err)
		}
	} else {
		_ = godotenv.Load()
	}

	if server := os.Getenv("PYROSCOPE_SERVER_ADDRESS"); server != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "execpipe",
			ServerAddress:   server,
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, loaded); err != nil {
		log.Fatalf("execd failed: %v", err)
	}
}

func run(ctx context.Context, configPath string, loaded ops.Loaded) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics := obs.NewMetrics()
	eventBus := bus.New(metrics)
	defer eventBus.Close()

	lifecycle := og.NewLifecycle()
	book := state.NewBook()
	if loaded.Snapshot.Path != "" {
		if snap, err := state.ReadSnapshot(loaded.Snapshot.Path); err == nil {
			book.Restore(snap)
			logs.Infof("restored exposure snapshot from %s", loaded.Snapshot.Path)
		} else if !os.IsNotExist(err) {
			return err
		}
	}

	sinks, wal, err := buildAuditSinks(loaded.Audit, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			logs.Errorf("close audit sinks: %v", err)
		}
	}()

	complianceEngine := compliance.NewEngine(loaded.RefData, compliance.DefaultRules()...)
	if loaded.ComplianceRefresh > 0 {
		go complianceEngine.RunRefresher(ctx, ops.NewRefDataSource(configPath), loaded.ComplianceRefresh)
	}

	table := router.NewTable(loaded.Registry)
	tableSub, err := eventBus.Subscribe(bus.TopicTicks, tickQueueCapacity)
	if err != nil {
		return err
	}
	go table.Watch(ctx, tableSub, loaded.VenueBySource)

	if wal != nil {
		journalSub, err := eventBus.Subscribe(bus.TopicTicks, tickQueueCapacity)
		if err != nil {
			return err
		}
		go journalTicks(ctx, journalSub, wal, metrics)
	}

	clients := make(map[schema.VenueID]execution.VenueClient, loaded.Registry.VenueCount())
	for i := 0; i < loaded.Registry.VenueCount(); i++ {
		venue, ok := loaded.Registry.VenueAt(i)
		if !ok {
			continue
		}
		clients[venue.ID] = venuesim.New(venuesim.Config{Behavior: venuesim.BehaviorFill})
	}

	post := postexec.NewProcessor(lifecycle, book, sinks, eventBus, metrics)
	pipe := pipeline.New(loaded.Pipeline, pipeline.Deps{
		Lifecycle:  lifecycle,
		Book:       book,
		Risk:       risk.NewEngine(loaded.Risk, loaded.Registry),
		Compliance: complianceEngine,
		Router:     router.NewRouter(loaded.Strategy, table),
		Table:      table,
		Exec:       execution.NewEngine(loaded.Execution, clients, eventBus, metrics),
		Post:       post,
		Bus:        eventBus,
		Metrics:    metrics,
	})
	pipe.Start(ctx)
	defer pipe.Stop()

	var feeds sync.WaitGroup
	for _, feedCfg := range loaded.Ingest.Feeds {
		source, err := buildFeed(feedCfg, loaded.Registry)
		if err != nil {
			return err
		}
		runner := ingest.NewRunner(source, feedCfg.SourceID,
			ingest.NewNormalizer(loaded.Registry, loaded.AllowInstruments), eventBus, metrics)
		feeds.Add(1)
		go func() {
			defer feeds.Done()
			if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
				logs.Errorf("feed runner: %v", err)
			}
		}()
	}

	if loaded.Snapshot.Path != "" && loaded.Snapshot.Interval > 0 {
		go snapshotLoop(ctx, book, loaded.Snapshot)
	}

	addr := loaded.API.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	server := api.New(intake.New(loaded.Registry), pipe, lifecycle, metrics)
	logs.Infof("execd listening on %s", addr)
	err = server.Run(ctx, addr)

	cancel()
	feeds.Wait()
	if loaded.Snapshot.Path != "" {
		if snapErr := state.WriteSnapshot(loaded.Snapshot.Path, book.Snapshot()); snapErr != nil {
			logs.Errorf("write exposure snapshot: %v", snapErr)
		}
	}
	return err
}

func snapshotLoop(ctx context.Context, book *state.Book, cfg ops.SnapshotConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := state.WriteSnapshot(cfg.Path, book.Snapshot()); err != nil {
				logs.Errorf("write exposure snapshot: %v", err)
			}
		}
	}
}

// journalTicks appends market data from the bus to the WAL sink. A
// full queue only loses the tick from the journal, never from the
// pipeline.
func journalTicks(ctx context.Context, sub *bus.Subscription, wal *audit.WALSink, metrics *obs.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if e.Header.Type != schema.EventTick {
				continue
			}
			if err := wal.Record(ctx, audit.TickEvent(e.Header, e.Tick)); err != nil {
				metrics.IncAuditFailure(wal.Name())
			}
		}
	}
}

func buildAuditSinks(cfg ops.AuditConfig, metrics *obs.Metrics) (*audit.Multi, *audit.WALSink, error) {
	var sinks []audit.Sink
	var wal *audit.WALSink
	if cfg.WALDir != "" {
		w, err := audit.NewWALSink(audit.WALConfig{Dir: cfg.WALDir})
		if err != nil {
			return nil, nil, err
		}
		wal = w
		sinks = append(sinks, w)
	}
	if cfg.PostgresDSN != "" {
		pg, err := conn.NewPostgres(conn.PostgresOption{DSN: cfg.PostgresDSN, Silent: true})
		if err != nil {
			return nil, nil, err
		}
		pgSink, err := audit.NewPostgresSink(pg)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, pgSink)
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" {
		sinks = append(sinks, audit.NewKafkaNotifier(audit.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, audit.LogSink{})
	}
	return audit.NewMulti(metrics, sinks...), wal, nil
}

func buildFeed(cfg ops.FeedConfig, reg *schema.Registry) (ingest.FeedSource, error) {
	switch cfg.Kind {
	case "ws":
		return wsfeed.New(wsfeed.Config{
			URL:       cfg.URL,
			Subscribe: []byte(cfg.Subscribe),
		})
	default:
		return feedsim.New(reg, feedsim.Config{
			BasePrice: 100,
			BaseSize:  1,
			Spread:    1,
			Count:     cfg.Count,
			StartTs:   time.Now().UTC().UnixNano(),
		})
	}
}
