package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"execpipe/internal/schema"
)

// Snapshot captures exposure state at a point in time.
type Snapshot struct {
	Timestamp   int64             `json:"timestamp"`
	Clients     []ClientEntry     `json:"clients"`
	Instruments []InstrumentEntry `json:"instruments"`
}

// ClientEntry is a single client exposure entry.
type ClientEntry struct {
	ClientID schema.ClientID `json:"clientId"`
	Exposure schema.Notional `json:"exposure"`
}

// InstrumentEntry is a single instrument exposure entry.
type InstrumentEntry struct {
	InstrumentID schema.InstrumentID `json:"instrumentId"`
	Exposure     schema.Notional     `json:"exposure"`
}

// Snapshot builds a sorted snapshot from the current view.
func (b *Book) Snapshot() Snapshot {
	v := b.View()
	clients := make([]ClientEntry, 0, len(v.clients))
	for id, n := range v.clients {
		clients = append(clients, ClientEntry{ClientID: id, Exposure: n})
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].ClientID < clients[j].ClientID
	})
	instruments := make([]InstrumentEntry, 0, len(v.instruments))
	for id, n := range v.instruments {
		instruments = append(instruments, InstrumentEntry{InstrumentID: id, Exposure: n})
	}
	sort.Slice(instruments, func(i, j int) bool {
		return instruments[i].InstrumentID < instruments[j].InstrumentID
	})
	return Snapshot{
		Timestamp:   time.Now().UTC().UnixNano(),
		Clients:     clients,
		Instruments: instruments,
	}
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
