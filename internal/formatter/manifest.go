package formatter

import (
	"fmt"
	"os"
	"time"

	"github.com/desertthunder/stemx/internal/shared"
)

// ManifestEntry describes one downloaded stem.
type ManifestEntry struct {
	Name       string `json:"name"`
	ResourceID string `json:"resource_id"`
	Path       string `json:"path,omitempty"`
	Bytes      int64  `json:"bytes"`
	Size       string `json:"size,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Manifest summarises a stem download run.
type Manifest struct {
	TaskID      string          `json:"task_id"`
	OutputDir   string          `json:"output_dir"`
	Format      Format          `json:"format"`
	GeneratedAt time.Time       `json:"generated_at"`
	Successful  int             `json:"successful"`
	Failed      int             `json:"failed"`
	Entries     []ManifestEntry `json:"entries"`
}

// WriteManifest writes m as indented JSON to path.
func WriteManifest(m *Manifest, path string) error {
	for i := range m.Entries {
		if m.Entries[i].Error == "" {
			m.Entries[i].Size = shared.FormatBytes(m.Entries[i].Bytes)
		}
	}

	data, err := shared.MarshalJSON(m, true)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
