// Command deauthd is the host daemon: it reads alert records from the
// gateway's serial link, persists them in reordered batches, estimates
// attacker positions and serves the API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/deauth.watch/internal/api"
	"github.com/banshee-data/deauth.watch/internal/config"
	"github.com/banshee-data/deauth.watch/internal/db"
	"github.com/banshee-data/deauth.watch/internal/db/clickhouse"
	"github.com/banshee-data/deauth.watch/internal/ingest"
	"github.com/banshee-data/deauth.watch/internal/locate"
	"github.com/banshee-data/deauth.watch/internal/monitoring"
	"github.com/banshee-data/deauth.watch/internal/serialmux"
	"github.com/banshee-data/deauth.watch/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a .json or .yaml config file")
	devMode     = flag.Bool("dev", false, "Replace the serial link with synthetic records")
	devInterval = flag.Duration("dev-interval", 200*time.Millisecond, "Interval between synthetic records in -dev mode")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC health listen address (overrides config)")
	port        = flag.String("port", "", "Serial port (overrides config, ignored in -dev mode)")
	dbPath      = flag.String("db", "", "SQLite database path (overrides config)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// recordLink is the serial side of the daemon, real or synthetic.
type recordLink interface {
	ingest.Source
	AttachAdminRoutes(mux *http.ServeMux)
	Stats() (records, readErrors uint64)
	Close() error
}

// eventStore is satisfied by both the SQLite and ClickHouse stores.
type eventStore interface {
	ingest.Store
	db.EventStore
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.HTTP.Listen = listen
	}
	if *grpcListen != "" {
		cfg.HTTP.GRPCListen = grpcListen
	}
	if *port != "" {
		cfg.Serial.Port = port
	}
	if *dbPath != "" {
		cfg.Store.Path = dbPath
	}

	monitoring.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	positions, err := cfg.Positions()
	if err != nil {
		log.Fatalf("invalid sensor positions: %v", err)
	}

	var link recordLink
	if *devMode {
		gen := newDevGenerator()
		if len(positions) == 0 {
			positions = gen.positions()
		}
		link = serialmux.NewSyntheticSerialMux(ctx, *devInterval, gen.next)
		log.Printf("dev mode: synthetic records every %s", *devInterval)
	} else {
		opts := cfg.GetSerialOptions()
		link, err = serialmux.NewRealSerialMux(cfg.GetSerialPort(), opts)
		if err != nil {
			log.Fatalf("failed to open serial port %s: %v", cfg.GetSerialPort(), err)
		}
		log.Printf("reading records from %s at %s", cfg.GetSerialPort(), opts)
	}
	defer link.Close()

	var store eventStore
	var sqlite *db.DB
	switch cfg.GetDriver() {
	case config.DriverClickHouse:
		store, err = clickhouse.Open(ctx, *cfg.Store.ClickHouse)
	default:
		sqlite, err = db.NewDB(cfg.GetDBPath())
		store = sqlite
	}
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.GetDriver(), err)
	}
	defer store.Close()

	pipeline := ingest.New(link, store, cfg.GetQuantum())
	engine := locate.NewEngine(store, positions, cfg.LocateOptions())

	healthServer := health.NewServer()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipeline.Run(ctx); err != nil {
			log.Printf("ingest pipeline stopped: %v", err)
		}
		log.Print("ingest pipeline terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
		log.Print("localization loop terminated")
	}()

	stats := func() any {
		records, readErrors := link.Stats()
		return map[string]any{
			"pipeline": pipeline.Stats(),
			"serial": map[string]uint64{
				"records":     records,
				"read_errors": readErrors,
			},
			"locate_cycles": engine.Cycles(),
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		link.AttachAdminRoutes(mux)
		if sqlite != nil {
			if err := sqlite.AttachAdminRoutes(mux); err != nil {
				log.Printf("database admin routes disabled: %v", err)
			}
		}
		mux.Handle("/", api.NewServer(store, engine, stats).Router())

		server := &http.Server{
			Addr:    cfg.GetHTTPListen(),
			Handler: mux,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("HTTP listening on %s", cfg.GetHTTPListen())

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	lis, err := net.Listen("tcp", cfg.GetGRPCListen())
	if err != nil {
		log.Fatalf("failed to listen for gRPC on %s: %v", cfg.GetGRPCListen(), err)
	}
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	// serial link and store are open by now
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			<-ctx.Done()
			healthServer.Shutdown()
			grpcServer.GracefulStop()
		}()
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("gRPC server stopped: %v", err)
		}
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
