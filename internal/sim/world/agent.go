package world

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"riftclaw.ai/internal/passport"
)

type Agent struct {
	// ID is the cross-world identifier; it survives every crossing.
	ID   string
	UUID uuid.UUID
	Name string

	Pos passport.Position

	Health float64
	Food   float64

	// Inventory is keyed by local item id.
	Inventory map[string]int
	// Labels remembers the carried display name of each local item, so a stack that came
	// in as "Portal Shard" leaves under the same name.
	Labels    map[string]string

	// Departed is set once a destination world confirmed this agent's latest crossing.
	Departed bool
	Arrivals int

	inPortal map[string]bool
}

// AgentView is a copy of an agent safe to hand outside the world goroutine.
type AgentView struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Pos       passport.Position `json:"pos"`
	Health    float64           `json:"health"`
	Food      float64           `json:"food"`
	Inventory map[string]int    `json:"inventory"`
	Departed  bool              `json:"departed"`
	Arrivals  int               `json:"arrivals"`
}

func (a *Agent) view() AgentView {
	inv := make(map[string]int, len(a.Inventory))
	for k, v := range a.Inventory {
		inv[k] = v
	}
	return AgentView{
		ID:        a.ID,
		Name:      a.Name,
		Pos:       a.Pos,
		Health:    a.Health,
		Food:      a.Food,
		Inventory: inv,
		Departed:  a.Departed,
		Arrivals:  a.Arrivals,
	}
}

func (a *Agent) addItem(item, label string, n int) {
	if n <= 0 {
		return
	}
	if a.Inventory == nil {
		a.Inventory = map[string]int{}
	}
	if a.Labels == nil {
		a.Labels = map[string]string{}
	}
	a.Inventory[item] += n
	if _, ok := a.Labels[item]; !ok && label != "" {
		a.Labels[item] = label
	}
}

// inventoryList renders the inventory in a stable order so the passport hash is
// reproducible for the same state.
func (a *Agent) inventoryList() []passport.InventoryItem {
	ids := make([]string, 0, len(a.Inventory))
	for id, n := range a.Inventory {
		if n > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]passport.InventoryItem, 0, len(ids))
	for _, id := range ids {
		name := a.Labels[id]
		if name == "" {
			name = id
		}
		out = append(out, passport.InventoryItem{Name: name, ItemType: id, Quantity: a.Inventory[id]})
	}
	return out
}

func distance(a, b passport.Position) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func clampVital(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	return v
}
