package chaincache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/onflow/quorumnet/integration/testnet"
	"github.com/onflow/quorumnet/utils/io"
)

// ManifestFile is the name of the manifest written next to the snapshot.
const ManifestFile = "cache.yaml"

// Manifest describes a built chain snapshot. A snapshot is never modified
// after its manifest has been written, only copied.
type Manifest struct {
	Chain  string `yaml:"chain"`
	Height uint64 `yaml:"height"`
	// Retained lists the chain subdirectories kept in the snapshot.
	Retained  []string  `yaml:"retained"`
	CreatedAt time.Time `yaml:"created_at"`
}

func readManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("could not decode manifest %s: %w", path, err)
	}
	return &m, nil
}

func writeManifest(path string, m *Manifest) error {
	raw, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("could not encode manifest: %w", err)
	}
	return os.WriteFile(path, raw, 0644)
}

// validate checks that the snapshot at datadir matches the manifest and the
// requested chain parameters.
func (m *Manifest) validate(datadir, chain string, height uint64) error {
	if m.Chain != chain {
		return fmt.Errorf("snapshot is for chain %q, want %q", m.Chain, chain)
	}
	if m.Height != height {
		return fmt.Errorf("snapshot has height %d, want %d", m.Height, height)
	}
	if len(m.Retained) == 0 {
		return fmt.Errorf("snapshot retains no chain data")
	}
	chainDir := testnet.ChainDir(datadir, chain)
	for _, dir := range m.Retained {
		if !io.IsDir(filepath.Join(chainDir, dir)) {
			return fmt.Errorf("snapshot is missing %s", dir)
		}
	}
	return nil
}
