// Command riftctl talks to a relay directly: list portals, push a one-shot handoff, and read
// a world's handoff history.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"riftclaw.ai/internal/config"
	"riftclaw.ai/internal/feedback"
	"riftclaw.ai/internal/passport"
	persistlog "riftclaw.ai/internal/persistence/log"
	"riftclaw.ai/internal/persistence/portalstore"
	"riftclaw.ai/internal/protocol"
	"riftclaw.ai/internal/relayclient"
	"riftclaw.ai/internal/transport/control"
)

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "discover":
		err = cmdDiscover(os.Args[2:], os.Stdout)
	case "handoff":
		err = cmdHandoff(os.Args[2:], os.Stdout)
	case "history":
		err = cmdHistory(os.Args[2:], os.Stdout)
	case "enter":
		err = cmdEnter(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "riftctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: riftctl <command> [flags]

commands:
  discover   connect, announce, print the relay's portal listing
  handoff    send one passport through a portal and wait for the confirm
  history    print a world's handoff journal (sqlite or compressed jsonl)
  enter      ask a running world to walk one of its agents through a portal`)
}

func defaultRelayURL() string {
	var e config.WorldEnv
	if err := config.ParseEnv(&e); err == nil && e.RelayURL != "" {
		return e.RelayURL
	}
	return config.DefaultWorld().Relay.URL
}

// session drives a relay client from the calling goroutine, which plays the simulation
// goroutine for the duration of one command.
type session struct {
	client *relayclient.Client
	rec    *feedback.Recorder
}

func newSession(cfg relayclient.Config, verbose bool) *session {
	logger := log.New(io.Discard, "", 0)
	if verbose {
		logger = log.New(os.Stderr, "[riftctl] ", log.LstdFlags|log.Lmicroseconds)
	}
	rec := &feedback.Recorder{}
	return &session{
		client: relayclient.New(cfg, relayclient.Options{Logger: logger, Notifier: rec}),
		rec:    rec,
	}
}

// pump handles events and ticks until done reports true or ctx expires.
func (s *session) pump(ctx context.Context, done func(ev relayclient.Event) bool) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.client.Events():
			s.client.Handle(ev)
			if ev.Kind == relayclient.EventConnectFailed {
				return fmt.Errorf("connect: %w", ev.Err)
			}
			if ev.Kind == relayclient.EventDisconnected {
				return errors.New("relay closed the connection")
			}
			if done(ev) {
				return nil
			}
		case now := <-ticker.C:
			s.client.Tick(now)
			if done(relayclient.Event{}) {
				return nil
			}
		}
	}
}

func (s *session) connect(ctx context.Context) ([]protocol.PortalDescriptor, error) {
	s.client.Connect(ctx)
	err := s.pump(ctx, func(ev relayclient.Event) bool {
		_, ok := ev.Msg.(*protocol.DiscoverResponseMsg)
		return ok
	})
	if err != nil {
		return nil, err
	}
	return s.client.Portals(), nil
}

func cmdDiscover(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	relayURL := fs.String("relay", defaultRelayURL(), "relay websocket url")
	agentID := fs.String("agent", "riftctl", "agent id announced in discover")
	timeout := fs.Duration("timeout", 5*time.Second, "overall timeout")
	verbose := fs.Bool("v", false, "log client activity to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	s := newSession(relayclient.Config{URL: *relayURL, AgentID: *agentID}, *verbose)
	defer s.client.Close()

	portals, err := s.connect(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Relay   string                      `json:"relay"`
		Portals []protocol.PortalDescriptor `json:"portals"`
	}{Relay: s.client.RelayName(), Portals: portals})
}

func cmdHandoff(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("handoff", flag.ContinueOnError)
	relayURL := fs.String("relay", defaultRelayURL(), "relay websocket url")
	from := fs.String("from", "riftctl", "source world name")
	tag := fs.String("tag", "cli", "agent id prefix")
	portalID := fs.String("portal", "", "portal id from discover (its destination becomes target_world)")
	to := fs.String("to", "", "target world, when no portal is given")
	agentID := fs.String("id", "", "reuse this agent id instead of minting one")
	name := fs.String("name", "Wanderer", "agent name")
	items := fs.String("items", "Portal Shard:1", "inventory as name:qty,...")
	memory := fs.String("memory", "", "memory_summary carried with the passport")
	keyPath := fs.String("key", "", "sign with the ed25519 seed at this path (created if missing)")
	timeout := fs.Duration("timeout", 20*time.Second, "overall timeout")
	verbose := fs.Bool("v", false, "log client activity to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *portalID == "" && *to == "" {
		return errors.New("need -portal or -to")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	s := newSession(relayclient.Config{URL: *relayURL, AgentID: *from + "-riftctl"}, *verbose)
	defer s.client.Close()

	portals, err := s.connect(ctx)
	if err != nil {
		return err
	}
	target := *to
	if *portalID != "" {
		var found bool
		for _, p := range portals {
			if p.PortalID == *portalID {
				target, found = p.DestinationWorld, true
				break
			}
		}
		if !found {
			return fmt.Errorf("portal %s not found (have %d)", *portalID, len(portals))
		}
	}

	fields := passport.Fields{
		AgentID:   *agentID,
		AgentUUID: uuid.New(),
		AgentName: *name,
		Inventory: passport.ParseInventory(*items),
		Health:    20,
		Food:      20,
	}
	pp := passport.Build(passport.Template{
		WorldTag:      *tag,
		SourceWorld:   *from,
		TargetWorld:   target,
		MemorySummary: *memory,
	}, fields, time.Now())
	if *keyPath != "" {
		signer, err := passport.LoadOrCreateSigner(*keyPath)
		if err != nil {
			return err
		}
		if err := signer.Sign(&pp); err != nil {
			return err
		}
	}
	if err := s.client.SendHandoffRequestFrom(*portalID, pp); err != nil {
		return err
	}
	fmt.Fprintf(out, "sent %s (nonce %s) from %s to %s\n", pp.AgentID, pp.Nonce, pp.SourceWorld, pp.TargetWorld)

	err = s.pump(ctx, func(relayclient.Event) bool {
		return s.rec.Count(pp.AgentID, feedback.KindConfirmed)+s.rec.Count(pp.AgentID, feedback.KindFailed) > 0
	})
	if err != nil {
		return err
	}
	for _, n := range s.rec.Notices() {
		if n.AgentID == pp.AgentID {
			fmt.Fprintf(out, "%s: %s\n", n.Kind, n.Text)
		}
	}
	if s.rec.Count(pp.AgentID, feedback.KindFailed) > 0 {
		return errors.New("handoff failed")
	}
	return nil
}

func cmdEnter(args []string, out io.Writer) error {
	var e config.WorldEnv
	_ = config.ParseEnv(&e)
	fs := flag.NewFlagSet("enter", flag.ContinueOnError)
	base := fs.String("world", "http://127.0.0.1:8081", "world control url")
	agentID := fs.String("agent", "", "local agent id")
	portalID := fs.String("portal", "", "portal id")
	secret := fs.String("secret", e.ControlSecret, "control secret (default $RIFTCLAW_CONTROL_SECRET)")
	caller := fs.String("caller", "riftctl", "caller id sent in x-agent-id")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentID == "" || *portalID == "" {
		return errors.New("need -agent and -portal")
	}

	body, err := json.Marshal(control.EnterRequest{AgentID: *agentID, PortalID: *portalID})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(*base, "/")+"/v1/enter", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if *secret != "" {
		control.Sign(req, []byte(*secret), *caller, passport.NewNonce(), body, time.Now())
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s", b)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("world answered %s", resp.Status)
	}
	return nil
}

func cmdHistory(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	dbPath := fs.String("db", "", "world sqlite path")
	journalDir := fs.String("journal", "", "world journal dir (compressed jsonl)")
	agentID := fs.String("agent", "", "only this agent")
	limit := fs.Int("limit", 50, "max rows from sqlite")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" && *journalDir == "" {
		*dbPath = "data/world.sqlite"
	}

	enc := json.NewEncoder(out)
	if *dbPath != "" {
		store, err := portalstore.OpenSQLite(*dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		rows, err := store.Handoffs(context.Background(), *agentID, *limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	files, err := persistlog.Files(*journalDir, "handoffs")
	if err != nil {
		return err
	}
	for _, f := range files {
		err := persistlog.ReadJSONL(f, func(line []byte) error {
			if *agentID != "" {
				var e relayclient.JournalEntry
				if err := json.Unmarshal(line, &e); err != nil || e.AgentID != *agentID {
					return nil
				}
			}
			_, err := fmt.Fprintf(out, "%s\n", line)
			return err
		})
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}
