package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Manifest records the top-level archive state: total records written,
// the most recent volume number, and creation time.
type Manifest struct {
	mu           sync.Mutex
	path         string
	TotalRecords int64 `json:"totalRecords"`
	LatestVolume int   `json:"latestVolume"`
	CreatedAt    int64 `json:"createdAt"`
}

func loadOrCreateManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "manifest.json")
	m := &Manifest{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		m.CreatedAt = time.Now().UnixNano()
		if err := m.persistLocked(); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// recordAppend advances the manifest after a record is durable in its
// volume. It is called under the manifest's own lock, separate from any
// volume lock.
func (m *Manifest) recordAppend(ordinal int64, volume int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ordinal+1 > m.TotalRecords {
		m.TotalRecords = ordinal + 1
	}
	if volume > m.LatestVolume {
		m.LatestVolume = volume
	}
	return m.persistLocked()
}

func (m *Manifest) persistLocked() error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

func (m *Manifest) snapshot() Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Manifest{TotalRecords: m.TotalRecords, LatestVolume: m.LatestVolume, CreatedAt: m.CreatedAt}
}
