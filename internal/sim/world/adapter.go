package world

import (
	"fmt"

	"github.com/google/uuid"

	"riftclaw.ai/internal/passport"
)

var _ passport.Adapter = (*World)(nil)

// ExtractPassportFields snapshots an agent for an outbound passport.
func (w *World) ExtractPassportFields(agentID string) (passport.Fields, error) {
	a := w.agents[agentID]
	if a == nil {
		return passport.Fields{}, fmt.Errorf("agent %s not found", agentID)
	}
	return passport.Fields{
		AgentID:   a.ID,
		AgentUUID: a.UUID,
		AgentName: a.Name,
		Position:  a.Pos,
		Inventory: a.inventoryList(),
		Health:    a.Health,
		Food:      a.Food,
	}, nil
}

// ApplyPassport materialises an arriving agent at spawn. Carried items are mapped by exact
// name; anything without a local equivalent is skipped and logged, never fatal.
func (w *World) ApplyPassport(p passport.Passport) error {
	a := w.agents[p.AgentID]
	if a == nil {
		_, u, err := passport.ParseAgentID(p.AgentID)
		if err != nil {
			u = uuid.NewSHA1(uuid.NameSpaceURL, []byte(p.AgentID))
		}
		a = &Agent{
			ID:        p.AgentID,
			UUID:      u,
			Name:      p.AgentName,
			Health:    MaxHealth,
			Food:      MaxFood,
			Inventory: map[string]int{},
			Labels:    map[string]string{},
			inPortal:  map[string]bool{},
		}
		w.agents[a.ID] = a
	}
	if p.AgentName != "" {
		a.Name = p.AgentName
	}
	a.Pos = w.cfg.Spawn
	a.Departed = false
	a.Arrivals++
	// Arriving at spawn never counts as walking into a portal.
	w.markPortals(a)

	if p.Health > 0 {
		a.Health = clampVital(p.Health, MaxHealth)
	}
	if p.Food > 0 {
		a.Food = clampVital(p.Food, MaxFood)
	}

	granted, skipped := 0, 0
	for _, it := range p.Inventory {
		item, n, ok := w.items.Resolve(it.Name, it.Quantity)
		if !ok {
			skipped++
			w.log.Printf("arrival %s: no local item for %q (skipped)", a.ID, it.Name)
			continue
		}
		a.addItem(item, it.Name, n)
		granted += n
	}
	w.log.Printf("arrival %s (%s) from %s: granted=%d skipped=%d", a.ID, a.Name, p.SourceWorld, granted, skipped)
	return nil
}
