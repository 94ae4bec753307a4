package world

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"riftclaw.ai/internal/passport"
	"riftclaw.ai/internal/portal"
)

var ErrAgentNotFound = errors.New("agent not found")

type SpawnSpec struct {
	Name string
	// Pos defaults to the world spawn.
	Pos *passport.Position
	// Inventory lists display names; ItemType, when empty, is looked up in the item map.
	Inventory []passport.InventoryItem
}

type spawnReq struct {
	Spec SpawnSpec
	Resp chan AgentView
}

type moveReq struct {
	AgentID string
	Pos     passport.Position
	Resp    chan moveResp
}

type moveResp struct {
	Triggered []string
	Err       error
}

type enterReq struct {
	AgentID  string
	PortalID string
	Resp     chan enterResp
}

type enterResp struct {
	Passport passport.Passport
	Err      error
}

type agentReq struct {
	AgentID string
	Resp    chan agentResp
}

type agentResp struct {
	View AgentView
	Err  error
}

type PortalStatus struct {
	ID          string    `json:"id"`
	Target      string    `json:"target"`
	State       string    `json:"state"`
	LastHandoff time.Time `json:"last_handoff"`
}

type Status struct {
	Name      string         `json:"name"`
	Tick      uint64         `json:"tick"`
	Agents    int            `json:"agents"`
	Connected bool           `json:"connected"`
	Portals   []PortalStatus `json:"portals"`
}

type statusReq struct {
	Resp chan Status
}

// call sends req on ch and waits for the loop to answer on resp.
func call[Req, Resp any](ctx context.Context, w *World, ch chan Req, req Req, resp chan Resp) (Resp, error) {
	var zero Resp
	select {
	case ch <- req:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-w.stop:
		return zero, errors.New("world stopped")
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// SpawnAgent creates a new local agent with a fresh cross-world id.
func (w *World) SpawnAgent(ctx context.Context, spec SpawnSpec) (AgentView, error) {
	req := spawnReq{Spec: spec, Resp: make(chan AgentView, 1)}
	return call(ctx, w, w.spawnReq, req, req.Resp)
}

// MoveAgent relocates an agent. Crossing into a portal's radius triggers that portal once
// per entry; standing inside does not re-trigger.
func (w *World) MoveAgent(ctx context.Context, agentID string, pos passport.Position) ([]string, error) {
	req := moveReq{AgentID: agentID, Pos: pos, Resp: make(chan moveResp, 1)}
	r, err := call(ctx, w, w.moveReq, req, req.Resp)
	if err != nil {
		return nil, err
	}
	return r.Triggered, r.Err
}

// EnterPortal is the explicit "agent stepped into portal" event.
func (w *World) EnterPortal(ctx context.Context, agentID, portalID string) (passport.Passport, error) {
	req := enterReq{AgentID: agentID, PortalID: portalID, Resp: make(chan enterResp, 1)}
	r, err := call(ctx, w, w.enterReq, req, req.Resp)
	if err != nil {
		return passport.Passport{}, err
	}
	return r.Passport, r.Err
}

func (w *World) Agent(ctx context.Context, agentID string) (AgentView, error) {
	req := agentReq{AgentID: agentID, Resp: make(chan agentResp, 1)}
	r, err := call(ctx, w, w.agentReq, req, req.Resp)
	if err != nil {
		return AgentView{}, err
	}
	return r.View, r.Err
}

func (w *World) Status(ctx context.Context) (Status, error) {
	req := statusReq{Resp: make(chan Status, 1)}
	return call(ctx, w, w.statusReq, req, req.Resp)
}

func (w *World) handleSpawn(req spawnReq) {
	u := uuid.New()
	a := &Agent{
		ID:        passport.AgentID(w.cfg.Tag, u),
		UUID:      u,
		Name:      req.Spec.Name,
		Pos:       w.cfg.Spawn,
		Health:    MaxHealth,
		Food:      MaxFood,
		Inventory: map[string]int{},
		Labels:    map[string]string{},
		inPortal:  map[string]bool{},
	}
	if a.Name == "" {
		a.Name = "agent"
	}
	if req.Spec.Pos != nil {
		a.Pos = *req.Spec.Pos
	}
	inv := req.Spec.Inventory
	if inv == nil {
		inv = w.cfg.StarterItems
	}
	for _, it := range inv {
		item := it.ItemType
		if item == "" {
			item = it.Name
			if e, ok := w.items.ByName[it.Name]; ok {
				item = e.Item
			}
		}
		a.addItem(item, it.Name, it.Quantity)
	}
	w.agents[a.ID] = a
	w.markPortals(a)
	w.log.Printf("spawned %s (%s)", a.ID, a.Name)
	req.Resp <- a.view()
}

func (w *World) handleMove(req moveReq) {
	a := w.agents[req.AgentID]
	if a == nil {
		req.Resp <- moveResp{Err: fmt.Errorf("%w: %s", ErrAgentNotFound, req.AgentID)}
		return
	}
	a.Pos = req.Pos
	var triggered []string
	for _, id := range w.portalIDs() {
		slot := w.portals[id]
		inside := distance(a.Pos, slot.p.Config().Position) <= slot.radius
		entered := inside && !a.inPortal[id]
		a.inPortal[id] = inside
		if !entered {
			continue
		}
		if _, err := w.trigger(a, slot); !errors.Is(err, portal.ErrCoolingDown) {
			triggered = append(triggered, id)
		}
	}
	req.Resp <- moveResp{Triggered: triggered}
}

func (w *World) handleEnter(req enterReq) {
	a := w.agents[req.AgentID]
	if a == nil {
		req.Resp <- enterResp{Err: fmt.Errorf("%w: %s", ErrAgentNotFound, req.AgentID)}
		return
	}
	slot := w.portals[req.PortalID]
	if slot == nil {
		req.Resp <- enterResp{Err: fmt.Errorf("portal %s not found", req.PortalID)}
		return
	}
	p, err := w.trigger(a, slot)
	req.Resp <- enterResp{Passport: p, Err: err}
}

func (w *World) trigger(a *Agent, slot *portalSlot) (passport.Passport, error) {
	if !slot.p.CanTriggerHandoff() {
		return passport.Passport{}, portal.ErrCoolingDown
	}
	p, err := slot.p.TriggerHandoff(a.ID)
	if err != nil {
		w.log.Printf("portal %s: %s: %v", slot.p.ID(), a.ID, err)
	}
	return p, err
}

func (w *World) markPortals(a *Agent) {
	if a.inPortal == nil {
		a.inPortal = map[string]bool{}
	}
	for id, slot := range w.portals {
		a.inPortal[id] = distance(a.Pos, slot.p.Config().Position) <= slot.radius
	}
}

func (w *World) handleAgentReq(req agentReq) {
	a := w.agents[req.AgentID]
	if a == nil {
		req.Resp <- agentResp{Err: fmt.Errorf("%w: %s", ErrAgentNotFound, req.AgentID)}
		return
	}
	req.Resp <- agentResp{View: a.view()}
}

func (w *World) handleStatusReq(req statusReq) {
	s := Status{Name: w.cfg.Name, Tick: w.tick, Agents: len(w.agents)}
	if w.relay != nil {
		s.Connected = w.relay.IsConnected()
	}
	for _, id := range w.portalIDs() {
		p := w.portals[id].p
		s.Portals = append(s.Portals, PortalStatus{
			ID:          id,
			Target:      p.Config().Template.TargetWorld,
			State:       p.State().String(),
			LastHandoff: p.LastHandoff(),
		})
	}
	req.Resp <- s
}
