// Command sensor is an emulated sensor node. It feeds 802.11 frames from a
// pcap replay or a synthetic flood through the sliding-window detector and
// relays each alert to the gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/deauth.watch/internal/capture"
	"github.com/banshee-data/deauth.watch/internal/config"
	"github.com/banshee-data/deauth.watch/internal/detector"
	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/monitoring"
	"github.com/banshee-data/deauth.watch/internal/relay"
	"github.com/banshee-data/deauth.watch/internal/security"
	"github.com/banshee-data/deauth.watch/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a .json or .yaml config file")
	self        = flag.String("mac", "78:1C:3C:E3:AB:CC", "This sensor's MAC address")
	pcapPath    = flag.String("pcap", "", "Replay 802.11 frames from this pcap file")
	pace        = flag.Bool("pace", false, "Replay or flood in real time instead of as fast as possible")
	flood       = flag.Int("flood", 0, "Generate this many synthetic deauth frames")
	rate        = flag.Duration("rate", 5*time.Millisecond, "Interval between synthetic frames")
	attacker    = flag.String("attacker", "DE:AD:BE:EF:00:01", "Attacker MAC for synthetic frames")
	rssi        = flag.Int("rssi", -60, "Mean RSSI of synthetic frames")
	jitter      = flag.Int("jitter", 3, "RSSI jitter of synthetic frames")
	writePath   = flag.String("write", "", "Also write the frames to this pcap file")
	transport   = flag.String("transport", "", "Relay over udp or nats (overrides config)")
	addr        = flag.String("addr", "", "UDP destination (overrides config)")
	natsURL     = flag.String("nats", "", "NATS server URL (overrides config)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

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
	if *addr != "" {
		cfg.Relay.Address = addr
	}
	if *natsURL != "" {
		cfg.Relay.NATSURL = natsURL
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	selfMAC, err := event.ParseMAC(*self)
	if err != nil {
		log.Fatalf("invalid -mac: %v", err)
	}

	src, closeSrc, err := openSource()
	if err != nil {
		log.Fatal(err)
	}
	defer closeSrc()

	var link relay.Link
	switch cfg.GetTransport() {
	case config.TransportNATS:
		link, err = relay.NewNATSLink(cfg.GetNATSURL(), cfg.GetSubject())
	default:
		link, err = relay.NewUDPLink(cfg.GetRelayAddress())
	}
	if err != nil {
		log.Fatalf("failed to open %s relay link: %v", cfg.GetTransport(), err)
	}
	defer link.Close()

	queue := make(chan event.Record, cfg.GetQueueLen())
	det, err := detector.New(cfg.DetectorConfig(), selfMAC, queue)
	if err != nil {
		log.Fatalf("invalid detector configuration: %v", err)
	}

	handle := func(f detector.Frame) {
		if rec, ok := det.HandleFrame(f); ok {
			log.Printf("alert: %s", rec)
		}
	}
	if *writePath != "" {
		if err := security.ValidateOutputPath(*writePath); err != nil {
			log.Fatalf("invalid -write path: %v", err)
		}
		f, err := os.Create(*writePath)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *writePath, err)
		}
		defer f.Close()
		w, err := capture.NewWriter(f)
		if err != nil {
			log.Fatalf("failed to write pcap header: %v", err)
		}
		detect := handle
		handle = func(fr detector.Frame) {
			if err := w.WriteFrame(fr); err != nil {
				monitoring.Logf("[sensor] pcap write failed: %v", err)
			}
			detect(fr)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sender := relay.NewSender(link, queue, nil)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// stopped by close(queue) below so alerts raised during shutdown still go out
		if err := sender.Run(context.WithoutCancel(ctx)); err != nil {
			log.Printf("relay sender stopped: %v", err)
		}
	}()

	if err := src.Run(ctx, handle); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("frame source stopped: %v", err)
	}
	// the detector only enqueues from handle, so the queue can be closed
	// once the source returns; the sender drains what is left
	close(queue)
	wg.Wait()

	st := det.Stats()
	sent, failed := sender.Counts()
	log.Printf("sensor stopped: %d frames, %d alerts, %d dropped, %d sent, %d failed",
		st.Frames, st.Alerts, st.Dropped, sent, failed)
}

func openSource() (capture.Source, func(), error) {
	switch {
	case *pcapPath != "" && *flood > 0:
		return nil, nil, errors.New("-pcap and -flood are mutually exclusive")
	case *pcapPath != "":
		f, err := os.Open(*pcapPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open pcap: %w", err)
		}
		src, err := capture.NewPcapSource(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		src.Pace = *pace
		return src, func() { f.Close() }, nil
	case *flood > 0:
		mac, err := event.ParseMAC(*attacker)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid -attacker: %w", err)
		}
		return capture.Flood{
			Attacker: mac,
			Target:   event.MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			Count:    *flood,
			Interval: *rate,
			RSSI:     int8(*rssi),
			Jitter:   int8(*jitter),
			Pace:     *pace,
		}, func() {}, nil
	}
	return nil, nil, errors.New("one of -pcap or -flood is required")
}
