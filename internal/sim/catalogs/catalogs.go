// Package catalogs loads the exact-name table that maps inventory names carried in a
// passport to this world's local item ids.
package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type ItemEntry struct {
	Name string `yaml:"name" json:"name"`
	Item string `yaml:"item" json:"item"`
	// Grant is how many local items one matching stack yields. Zero carries the stack's
	// quantity over unchanged.
	Grant int `yaml:"grant,omitempty" json:"grant,omitempty"`
}

type itemFile struct {
	Items []ItemEntry `yaml:"items"`
}

type ItemMap struct {
	ByName  map[string]ItemEntry
	Palette []string
	Digest  string
}

// DefaultItems mirrors configs/items.yaml and is used when no file is configured.
func DefaultItems() *ItemMap {
	m, _ := newItemMap([]ItemEntry{
		{Name: "Portal Shard", Item: "DIAMOND", Grant: 1},
		{Name: "Data Crystal", Item: "EMERALD", Grant: 1},
	})
	return m
}

func LoadItems(path string) (*ItemMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f itemFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("items.yaml: %w", err)
	}
	return newItemMap(f.Items)
}

func newItemMap(entries []ItemEntry) (*ItemMap, error) {
	m := &ItemMap{ByName: make(map[string]ItemEntry, len(entries))}
	for i, e := range entries {
		if strings.TrimSpace(e.Name) == "" || strings.TrimSpace(e.Item) == "" {
			return nil, fmt.Errorf("items.yaml: entry %d needs name and item", i)
		}
		if e.Grant < 0 {
			return nil, fmt.Errorf("items.yaml: %q: negative grant", e.Name)
		}
		if _, dup := m.ByName[e.Name]; dup {
			return nil, fmt.Errorf("items.yaml: duplicate name %q", e.Name)
		}
		m.ByName[e.Name] = e
	}

	names := make([]string, 0, len(m.ByName))
	for n := range m.ByName {
		names = append(names, n)
	}
	sort.Strings(names)
	canon := make([]ItemEntry, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		e := m.ByName[n]
		canon = append(canon, e)
		if !seen[e.Item] {
			seen[e.Item] = true
			m.Palette = append(m.Palette, e.Item)
		}
	}
	sort.Strings(m.Palette)
	b, _ := json.Marshal(canon)
	m.Digest = sha256Hex(b)
	return m, nil
}

// Resolve maps one carried stack to a local item. Matching is exact; anything else is
// reported as unknown so the caller can skip it.
func (m *ItemMap) Resolve(name string, quantity int) (item string, count int, ok bool) {
	if m == nil {
		return "", 0, false
	}
	e, ok := m.ByName[name]
	if !ok {
		return "", 0, false
	}
	if e.Grant > 0 {
		return e.Item, e.Grant, true
	}
	if quantity < 1 {
		return "", 0, false
	}
	return e.Item, quantity, true
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
