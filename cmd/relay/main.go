package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"riftclaw.ai/internal/config"
	persistlog "riftclaw.ai/internal/persistence/log"
	"riftclaw.ai/internal/protocol"
	"riftclaw.ai/internal/relay"
	"riftclaw.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/relay.yaml", "relay config path")
		envFile    = flag.String("env", ".env", "dotenv file loaded before RIFTCLAW_* overrides (missing is fine)")
		dataDir    = flag.String("data", "./data/relay", "runtime data directory (routing journal)")
		noJournal  = flag.Bool("disable_journal", false, "disable the compressed routing journal")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[relay] ", log.LstdFlags|log.Lmicroseconds)

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logger.Printf("load %s: %v", *envFile, err)
	}
	cfg, err := config.LoadRelay(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	hub, err := relay.NewHub(relay.Config{
		Name:          cfg.Name,
		NodeID:        cfg.NodeID,
		OriginTTL:     cfg.OriginTTL,
		StatsInterval: cfg.StatsInterval,
		QueueSize:     cfg.QueueSize,
	}, logger)
	if err != nil {
		logger.Fatalf("hub: %v", err)
	}
	if !*noJournal {
		routes := persistlog.NewRouteLogger(*dataDir)
		defer routes.Close()
		hub.SetJournal(routes)
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := hub.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("hub stopped: %v", err)
		}
	}()

	wsSrv := ws.NewServer(hub, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))
	wsSrv.SetReadTimeout(cfg.ReadTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(hub.Stats())
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		s := hub.Stats()

		fmt.Fprintf(rw, "# HELP riftclaw_relay_connections Open world connections.\n")
		fmt.Fprintf(rw, "# TYPE riftclaw_relay_connections gauge\n")
		fmt.Fprintf(rw, "riftclaw_relay_connections %d\n", s.Connections)

		fmt.Fprintf(rw, "# HELP riftclaw_relay_worlds Registered worlds.\n")
		fmt.Fprintf(rw, "# TYPE riftclaw_relay_worlds gauge\n")
		fmt.Fprintf(rw, "riftclaw_relay_worlds %d\n", s.Worlds)

		fmt.Fprintf(rw, "# HELP riftclaw_relay_handoffs_total Handoff routing decisions.\n")
		fmt.Fprintf(rw, "# TYPE riftclaw_relay_handoffs_total counter\n")
		fmt.Fprintf(rw, "riftclaw_relay_handoffs_total{event=%q} %d\n", "forwarded", s.Forwarded)
		fmt.Fprintf(rw, "riftclaw_relay_handoffs_total{event=%q} %d\n", "confirmed", s.Confirmed)
		fmt.Fprintf(rw, "riftclaw_relay_handoffs_total{event=%q} %d\n", "rejected", s.Rejected)

		fmt.Fprintf(rw, "# HELP riftclaw_relay_dropped_total Frames dropped on full outbound queues.\n")
		fmt.Fprintf(rw, "# TYPE riftclaw_relay_dropped_total counter\n")
		fmt.Fprintf(rw, "riftclaw_relay_dropped_total %d\n", s.Dropped)
	})
	mux.HandleFunc(cfg.Path, wsSrv.Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("%s listening on %s%s (protocol %s)", cfg.Name, cfg.Listen, cfg.Path, protocol.Version)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
