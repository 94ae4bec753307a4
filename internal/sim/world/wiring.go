package world

import (
	"fmt"
	"log"
	"time"

	"riftclaw.ai/internal/config"
	"riftclaw.ai/internal/feedback"
	"riftclaw.ai/internal/passport"
	"riftclaw.ai/internal/portal"
	"riftclaw.ai/internal/relayclient"
	"riftclaw.ai/internal/sim/catalogs"
)

// PortalStore persists portal cooldown state across restarts.
type PortalStore interface {
	portal.Store
	LastHandoff(portalID string) (time.Time, bool, error)
}

type Deps struct {
	// Logger returns a logger for a component ("world", "relayclient", "portal").
	Logger   func(component string) *log.Logger
	Items    *catalogs.ItemMap
	Store    PortalStore
	Journal  relayclient.Journal
	Signer   *passport.Signer
	Notifier feedback.Notifier
	Now      func() time.Time
}

// Runtime is one fully wired world process.
type Runtime struct {
	World   *World
	Client  *relayclient.Client
	Portals []*portal.Portal
}

// Build creates the world, its relay client and its portals from config, restoring every
// portal's last_handoff_time from the store.
func Build(cfg config.World, deps Deps) (*Runtime, error) {
	logger := deps.Logger
	if logger == nil {
		logger = func(string) *log.Logger { return nil }
	}

	w, err := New(WorldConfig{
		Name:           cfg.Name,
		Tag:            cfg.Tag,
		TickRateHz:     cfg.TickRateHz,
		Spawn:          position(cfg.Spawn),
		ReconnectEvery: cfg.Relay.ReconnectEvery,
	}, Options{
		Logger:   logger("world"),
		Items:    deps.Items,
		Notifier: deps.Notifier,
		Now:      deps.Now,
	})
	if err != nil {
		return nil, err
	}

	client := relayclient.New(relayclient.Config{
		URL:               cfg.Relay.URL,
		AgentID:           cfg.Relay.AgentID,
		WorldName:         cfg.Name,
		WorldURL:          cfg.URL,
		DisplayName:       cfg.DisplayName,
		HandshakeTimeout:  cfg.Relay.HandshakeTimeout,
		HandoffTimeout:    cfg.Relay.HandoffTimeout,
		DedupeTTL:         cfg.Relay.DedupeTTL,
		DedupeMax:         cfg.Relay.DedupeMax,
		RequireSignatures: cfg.Relay.RequireSignatures,
	}, relayclient.Options{
		Logger:   logger("relayclient"),
		Arrivals: w,
		Notifier: w,
		Journal:  deps.Journal,
		Now:      deps.Now,
	})
	w.AttachRelay(client)

	rt := &Runtime{World: w, Client: client}
	for _, spec := range cfg.Portals {
		p, err := portal.New(portal.Config{
			ID:       spec.ID,
			Name:     spec.Name,
			Position: position(spec.Position),
			Template: passport.Template{
				WorldTag:      cfg.Tag,
				SourceWorld:   cfg.Name,
				TargetWorld:   spec.Target,
				Reputation:    spec.Reputation,
				MemorySummary: spec.MemorySummary,
			},
		}, portal.Options{
			Logger:   logger("portal"),
			Adapter:  w,
			Sender:   client,
			Notifier: w,
			Store:    storeOrNil(deps.Store),
			Signer:   deps.Signer,
			Now:      deps.Now,
		})
		if err != nil {
			return nil, err
		}
		if deps.Store != nil {
			last, ok, err := deps.Store.LastHandoff(spec.ID)
			if err != nil {
				return nil, fmt.Errorf("portal %s: restore: %w", spec.ID, err)
			}
			if ok {
				p.Restore(last)
			}
		}
		if err := w.AddPortal(p, spec.Radius); err != nil {
			return nil, err
		}
		rt.Portals = append(rt.Portals, p)
	}
	return rt, nil
}

// storeOrNil keeps a nil PortalStore from becoming a non-nil portal.Store.
func storeOrNil(s PortalStore) portal.Store {
	if s == nil {
		return nil
	}
	return s
}

func position(v config.Vec3) passport.Position {
	return passport.Position{X: v.X, Y: v.Y, Z: v.Z}
}
