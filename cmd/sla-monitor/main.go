// Command sla-monitor runs the branch-office probe engine: it
// schedules reachability probes per office, debounces the results into
// confirmed state changes, reconciles the live office set against a
// YAML configuration source, and periodically broadcasts a snapshot to
// the ingest-and-query service (spec §2, §6).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/snapetech/siteslam/internal/broadcaster"
	"github.com/snapetech/siteslam/internal/config"
	"github.com/snapetech/siteslam/internal/debounce"
	"github.com/snapetech/siteslam/internal/domain"
	"github.com/snapetech/siteslam/internal/ingestclient"
	"github.com/snapetech/siteslam/internal/probe"
	"github.com/snapetech/siteslam/internal/reconciler"
	"github.com/snapetech/siteslam/internal/scheduler"
	"github.com/snapetech/siteslam/internal/siteconfig"
	"github.com/snapetech/siteslam/internal/supervisor"
)

func main() {
	cfg := config.LoadMonitor()

	configPath := flag.String("config", cfg.OfficesYAML, "path to the offices configuration source")
	once := flag.Bool("once", false, "run a single probe pass across every configured office, print JSON, and exit")
	iterations := flag.Int("iterations", 0, "stop after N broadcast ticks (0 = run indefinitely)")
	intervalSeconds := flag.Int("interval-seconds", 0, "override the configured probe cadence (0 = use config)")
	timeoutMS := flag.Int("timeout-ms", 0, "override the configured per-probe timeout in ms (0 = use config)")
	pingConcurrency := flag.Int("ping-concurrency", cfg.PingConcurrency, "process-wide concurrency cap on outbound probes")
	flag.Parse()

	if *once {
		runOnce(*configPath, *timeoutMS)
		return
	}

	client, err := ingestclient.New(cfg.IngestBaseURL)
	if err != nil {
		log.Fatalf("sla-monitor: %v", err)
	}

	events := newEventEmitter()

	sched := scheduler.New(probe.SystemPing{}, *pingConcurrency, func(office string, ev debounce.Event) {
		if err := client.IngestStateChange(context.Background(), office, ev); err != nil {
			log.Printf("sla-monitor: ingest state change for %q: %v", office, err)
		}
		events.emitStateChange(office, ev)
	})

	rec := reconciler.New(*configPath, sched, client)
	if *intervalSeconds > 0 {
		rec.IntervalOverride = time.Duration(*intervalSeconds) * time.Second
	}
	if *timeoutMS > 0 {
		rec.TimeoutOverride = time.Duration(*timeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rec.LoadOnce(ctx); err != nil {
		log.Printf("sla-monitor: initial config load: %v", err)
	}

	broadcastInterval := broadcaster.DefaultInterval
	if doc, err := siteconfig.Load(*configPath); err == nil {
		broadcastInterval = doc.Broadcast()
	}

	var tickCount int64
	bc := &broadcaster.Broadcaster{
		Scheduler: sched,
		Sender:    client,
		Interval:  broadcastInterval,
		OnTick: func(entries []broadcaster.TickEntry) {
			events.emitTick(entries)
			if *iterations > 0 && atomic.AddInt64(&tickCount, 1) >= int64(*iterations) {
				cancel()
			}
		},
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("sla-monitor: shutting down")
		cancel()
	}()

	sup := supervisor.New(
		supervisor.Task{Name: "reconciler", Run: func(ctx context.Context) error { rec.Run(ctx); return nil }},
		supervisor.Task{Name: "broadcaster", Run: func(ctx context.Context) error { bc.Run(ctx); return nil }},
	)
	if err := sup.Run(ctx); err != nil {
		log.Fatalf("sla-monitor: %v", err)
	}
}

// runOnce performs a single probe pass across every configured office
// and prints one {event:"oneshot", ...} JSON line per office, then
// exits (spec §6 --once).
func runOnce(configPath string, timeoutMSOverride int) {
	doc, err := siteconfig.Load(configPath)
	if err != nil {
		log.Fatalf("sla-monitor: %v", err)
	}
	timeout := doc.Timeout()
	if timeoutMSOverride > 0 {
		timeout = time.Duration(timeoutMSOverride) * time.Millisecond
	}

	ctx := context.Background()
	oracle := probe.SystemPing{}
	enc := json.NewEncoder(os.Stdout)

	for _, o := range doc.Offices {
		if o.Name == "" {
			continue
		}
		sample := domain.Sample{
			Gateway: oracle.Probe(ctx, o.GatewayIP, timeout),
			MX:      oracle.Probe(ctx, o.MXIP, timeout),
			IPsec:   oracle.Probe(ctx, o.TunnelProbeIP, timeout),
		}
		_ = enc.Encode(map[string]any{
			"event":  "oneshot",
			"office": o.Name,
			"state":  sample.Classify(),
			"sample": sample,
			"ts":     time.Now().Unix(),
		})
	}
}

// eventEmitter writes newline-delimited JSON event objects to stdout
// (spec §6 "Stdout events").
type eventEmitter struct {
	enc *json.Encoder
}

func newEventEmitter() *eventEmitter {
	return &eventEmitter{enc: json.NewEncoder(os.Stdout)}
}

func (e *eventEmitter) emitStateChange(office string, ev debounce.Event) {
	_ = e.enc.Encode(map[string]any{
		"event":  "state_change",
		"office": office,
		"state":  ev.NewState,
		"sample": ev.Sample,
		"at":     ev.At.Unix(),
	})
}

func (e *eventEmitter) emitTick(entries []broadcaster.TickEntry) {
	rows := make([]map[string]any, 0, len(entries))
	for _, en := range entries {
		rows = append(rows, map[string]any{
			"office":  en.Office,
			"state":   en.State,
			"sample":  en.Sample,
			"sampled": en.Sampled,
			"ts":      en.TS,
		})
	}
	_ = e.enc.Encode(map[string]any{
		"event":   "tick",
		"offices": rows,
	})
}
