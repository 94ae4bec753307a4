package catalogs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultItems_ExactNameOnly(t *testing.T) {
	m := DefaultItems()
	if item, n, ok := m.Resolve("Portal Shard", 7); !ok || item != "DIAMOND" || n != 1 {
		t.Fatalf("Portal Shard -> %q x%d ok=%v", item, n, ok)
	}
	if item, _, ok := m.Resolve("Data Crystal", 1); !ok || item != "EMERALD" {
		t.Fatalf("Data Crystal -> %q ok=%v", item, ok)
	}
	for _, name := range []string{"portal shard", "Portal Shard ", "Shard", "Lunar Shard", ""} {
		if _, _, ok := m.Resolve(name, 1); ok {
			t.Fatalf("%q must not match", name)
		}
	}
}

func TestLoadItems_MatchesDefaultsFile(t *testing.T) {
	m, err := LoadItems(filepath.Join("..", "..", "..", "configs", "items.yaml"))
	if err != nil {
		t.Fatalf("LoadItems: %v", err)
	}
	def := DefaultItems()
	if _, _, ok := m.Resolve("Portal Shard", 1); !ok {
		t.Fatalf("configs/items.yaml should map Portal Shard")
	}
	if len(m.ByName) < len(def.ByName) {
		t.Fatalf("configs/items.yaml lost default entries")
	}
}

func TestLoadItems_CarryQuantityAndDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "items.yaml")
	write := func(s string) {
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("items:\n  - name: Star Fragment\n    item: NETHER_STAR\n  - name: Pearl\n    item: ENDER_PEARL\n    grant: 2\n")
	a, err := LoadItems(path)
	if err != nil {
		t.Fatalf("LoadItems: %v", err)
	}
	if item, n, ok := a.Resolve("Star Fragment", 3); !ok || item != "NETHER_STAR" || n != 3 {
		t.Fatalf("carry quantity: %q x%d ok=%v", item, n, ok)
	}
	if _, n, _ := a.Resolve("Pearl", 9); n != 2 {
		t.Fatalf("fixed grant: %d", n)
	}
	if len(a.Palette) != 2 || a.Palette[0] != "ENDER_PEARL" {
		t.Fatalf("palette: %v", a.Palette)
	}

	// Order in the file does not affect the digest.
	write("items:\n  - name: Pearl\n    item: ENDER_PEARL\n    grant: 2\n  - name: Star Fragment\n    item: NETHER_STAR\n")
	b, err := LoadItems(path)
	if err != nil {
		t.Fatalf("LoadItems: %v", err)
	}
	if a.Digest != b.Digest || a.Digest == DefaultItems().Digest {
		t.Fatalf("digest mismatch: %s vs %s", a.Digest, b.Digest)
	}
}

func TestLoadItems_Rejects(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"missing item": "items:\n  - name: Pearl\n",
		"duplicate":    "items:\n  - name: Pearl\n    item: A\n  - name: Pearl\n    item: B\n",
		"negative":     "items:\n  - name: Pearl\n    item: A\n    grant: -1\n",
		"bad yaml":     "items: [\n",
	} {
		path := filepath.Join(dir, "items.yaml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := LoadItems(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
