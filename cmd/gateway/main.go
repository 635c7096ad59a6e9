// Command gateway receives alert datagrams from sensors and writes each
// valid record, unchanged, to the serial link to the host.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/deauth.watch/internal/config"
	"github.com/banshee-data/deauth.watch/internal/monitoring"
	"github.com/banshee-data/deauth.watch/internal/relay"
	"github.com/banshee-data/deauth.watch/internal/serialmux"
	"github.com/banshee-data/deauth.watch/internal/version"
)

var (
	configPath    = flag.String("config", "", "Path to a .json or .yaml config file")
	transport     = flag.String("transport", "", "Receive over udp or nats (overrides config)")
	listen        = flag.String("listen", "", "UDP listen address (overrides config)")
	natsURL       = flag.String("nats", "", "NATS server URL (overrides config)")
	port          = flag.String("port", "", "Serial port to the host (overrides config)")
	metricsListen = flag.String("metrics", "", "Serve /metrics on this address when set")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

// receiver is a UDP or NATS listener.
type receiver interface {
	Run(ctx context.Context) error
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
	if *transport != "" {
		cfg.Relay.Transport = transport
	}
	if *listen != "" {
		cfg.Relay.Address = listen
	}
	if *natsURL != "" {
		cfg.Relay.NATSURL = natsURL
	}
	if *port != "" {
		cfg.Serial.Port = port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	monitoring.Register()

	opts := cfg.GetSerialOptions()
	link, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), opts)
	if err != nil {
		log.Fatalf("failed to open serial port %s: %v", cfg.GetSerialPort(), err)
	}
	defer link.Close()
	log.Printf("writing records to %s at %s", cfg.GetSerialPort(), opts)

	gw := relay.NewGateway(link)

	var rx receiver
	switch cfg.GetTransport() {
	case config.TransportNATS:
		rx, err = relay.NewNATSListener(cfg.GetNATSURL(), cfg.GetSubject(), gw)
		if err != nil {
			log.Fatalf("failed to connect to NATS at %s: %v", cfg.GetNATSURL(), err)
		}
		log.Printf("subscribed to %s on %s", cfg.GetSubject(), cfg.GetNATSURL())
	default:
		rx = relay.NewUDPListener(cfg.GetListenAddress(), gw)
		log.Printf("listening for datagrams on %s", cfg.GetListenAddress())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *metricsListen != "" {
		srv := &http.Server{Addr: *metricsListen, Handler: monitoring.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if err := rx.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("receiver stopped: %v", err)
	}
	forwarded, discarded := gw.Counts()
	log.Printf("gateway stopped: %d forwarded, %d discarded", forwarded, discarded)
}
