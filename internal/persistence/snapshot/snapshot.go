package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

// SnapshotV1 is the persisted world state. Open trade sessions are never
// persisted: items held in escrow are folded back into their owners' inventories.
type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRate       int            `json:"tick_rate_hz"`
	SlotsPerSide   int            `json:"slots_per_side"`
	InventorySlots int            `json:"inventory_slots"`
	MaxStack       int            `json:"max_stack"`
	StarterItems   map[string]int `json:"starter_items,omitempty"`

	Agents []AgentV1      `json:"agents"`
	Ground []GroundItemV1 `json:"ground,omitempty"`
}

type AgentV1 struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Pos       [3]int        `json:"pos"`
	Inventory []ItemStackV1 `json:"inventory"`
}

type ItemStackV1 struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

type GroundItemV1 struct {
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	Pos    [3]int `json:"pos"`
	Item   string `json:"item"`
	Count  int    `json:"count"`
	Reason string `json:"reason,omitempty"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, snap SnapshotV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// Header line is informational; gob carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// PathFor returns the canonical file name for a snapshot taken at tick.
func PathFor(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.snap.zst", tick))
}

// Latest returns the snapshot with the highest tick in dir, or "" if there is none.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.snap.zst"))
	if err != nil {
		return "", err
	}
	type cand struct {
		path string
		tick uint64
	}
	var cands []cand
	for _, m := range matches {
		base := strings.TrimSuffix(filepath.Base(m), ".snap.zst")
		t, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		cands = append(cands, cand{path: m, tick: t})
	}
	if len(cands) == 0 {
		return "", nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].tick < cands[j].tick })
	return cands[len(cands)-1].path, nil
}
