package inventory

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// snapshot is the on-disk shape of the tracker.
type snapshot struct {
	Positions   []*Position     `json:"positions"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// SnapshotStore persists the tracker as a single JSON file, written
// atomically via temp-file rename so a crash never leaves a torn file.
type SnapshotStore struct {
	path string
}

// NewSnapshotStore creates the store and its parent directory.
func NewSnapshotStore(path string) (*SnapshotStore, error) {
	if path == "" {
		return nil, errors.New("snapshot path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create snapshot dir")
	}
	return &SnapshotStore{path: path}, nil
}

// Save writes the tracker state to disk.
func (s *SnapshotStore) Save(t *Tracker) error {
	snap := snapshot{RealizedPnL: t.realized}
	for _, p := range t.positions {
		snap.Positions = append(snap.Positions, p)
	}
	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write snapshot temp")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "rename snapshot")
	}
	return nil
}

// Load restores a tracker from disk. A missing file returns an empty
// tracker, not an error.
func (s *SnapshotStore) Load() (*Tracker, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewTracker(), nil
		}
		return nil, errors.Wrap(err, "read snapshot")
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "parse snapshot")
	}
	t := NewTracker()
	t.realized = snap.RealizedPnL
	for _, p := range snap.Positions {
		if p != nil && p.Slug != "" {
			t.positions[p.Slug] = p
		}
	}
	return t, nil
}
