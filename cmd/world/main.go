package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"riftclaw.ai/internal/config"
	"riftclaw.ai/internal/feedback"
	"riftclaw.ai/internal/passport"
	persistlog "riftclaw.ai/internal/persistence/log"
	"riftclaw.ai/internal/persistence/portalstore"
	"riftclaw.ai/internal/relayclient"
	"riftclaw.ai/internal/sim/catalogs"
	"riftclaw.ai/internal/sim/world"
	"riftclaw.ai/internal/transport/control"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/world.yaml", "world config path")
		envFile    = flag.String("env", ".env", "dotenv file loaded before RIFTCLAW_* overrides (missing is fine)")
		addr       = flag.String("addr", "", "control http address (default: control.listen; \"off\" to disable)")
		disableDB  = flag.Bool("disable_db", false, "keep portal cooldowns and the handoff journal in memory only")
		sign       = flag.Bool("sign", true, "sign outbound passports with the key at storage.key_path")

		demoAgent = flag.String("agent", "", "spawn a demo agent with this name")
		demoItems = flag.String("items", "Portal Shard:1,Data Crystal:1", "demo agent inventory as name:qty,...")
		demoWalk  = flag.Bool("walk", false, "walk the demo agent into the first portal once the relay is connected")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds)
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logger.Printf("load %s: %v", *envFile, err)
	}

	cfg, err := config.LoadWorld(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	items := catalogs.DefaultItems()
	if cfg.ItemsPath != "" {
		items, err = catalogs.LoadItems(cfg.ItemsPath)
		if err != nil {
			logger.Fatalf("load items: %v", err)
		}
	}
	logger.Printf("item map: %d names digest=%s", len(items.ByName), items.Digest)

	deps := world.Deps{
		Logger: func(component string) *log.Logger {
			return log.New(os.Stdout, "["+component+"] ", log.LstdFlags|log.Lmicroseconds)
		},
		Items:    items,
		Notifier: feedback.NotifierFunc(func(n feedback.Notice) {
			logger.Printf(">> %s [%s] %s", n.AgentID, n.Kind, n.Text)
		}),
	}

	var journals relayclient.MultiJournal
	if !*disableDB {
		store, err := portalstore.OpenSQLite(cfg.Storage.DBPath)
		if err != nil {
			logger.Fatalf("open store: %v", err)
		}
		defer store.Close()
		if err := store.UpsertItemMap(items); err != nil {
			logger.Printf("record item map: %v", err)
		}
		deps.Store = store
		journals = append(journals, store)
	}
	if cfg.Storage.JournalDir != "" {
		hl := persistlog.NewHandoffLogger(cfg.Storage.JournalDir)
		defer hl.Close()
		journals = append(journals, hl)
	}
	if len(journals) > 0 {
		deps.Journal = journals
	}
	if *sign && cfg.Storage.KeyPath != "" {
		signer, err := passport.LoadOrCreateSigner(cfg.Storage.KeyPath)
		if err != nil {
			logger.Fatalf("signing key: %v", err)
		}
		deps.Signer = signer
		logger.Printf("signing passports with %s", signer.PublicKey())
	}

	rt, err := world.Build(cfg, deps)
	if err != nil {
		logger.Fatalf("build world: %v", err)
	}
	defer rt.Client.Close()

	ctx, cancel := signalContext()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := rt.World.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	if *demoAgent != "" {
		go runDemo(ctx, logger, rt, *demoAgent, passport.ParseInventory(*demoItems), *demoWalk)
	}

	listen := cfg.Control.Listen
	if *addr != "" {
		listen = *addr
	}
	if listen != "" && listen != "off" {
		ctl := control.NewServer(rt.World, []byte(cfg.Control.Secret), log.New(os.Stdout, "[control] ", log.LstdFlags|log.Lmicroseconds))
		srv := &http.Server{
			Addr:              listen,
			Handler:           ctl.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
		go func() {
			logger.Printf("control on %s (signed=%t)", listen, cfg.Control.Secret != "")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("ListenAndServe: %v", err)
				cancel()
			}
		}()
	}

	logger.Printf("%s (%s) running at %d Hz, relay %s", cfg.Name, cfg.Tag, cfg.TickRateHz, cfg.Relay.URL)
	<-done
}

func runDemo(ctx context.Context, logger *log.Logger, rt *world.Runtime, name string, inv []passport.InventoryItem, walk bool) {
	a, err := rt.World.SpawnAgent(ctx, world.SpawnSpec{Name: name, Inventory: inv})
	if err != nil {
		logger.Printf("demo: spawn: %v", err)
		return
	}
	logger.Printf("demo: spawned %s as %s", name, a.ID)
	if !walk || len(rt.Portals) == 0 {
		return
	}
	target := rt.Portals[0].Config()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st, err := rt.World.Status(ctx)
		if err != nil || !st.Connected {
			continue
		}
		triggered, err := rt.World.MoveAgent(ctx, a.ID, target.Position)
		if err != nil {
			logger.Printf("demo: move: %v", err)
		} else {
			logger.Printf("demo: %s walked into %s (triggered %v)", a.ID, target.ID, triggered)
		}
		return
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
