package writer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ManifestFile describes one artifact written for a symbol.
type ManifestFile struct {
	Path        string `json:"path"`
	Format      string `json:"format"`
	FileSize    int64  `json:"file_size_in_bytes"`
	RecordCount int64  `json:"record_count"`
}

// Manifest records what a run produced for one symbol.
type Manifest struct {
	ManifestID  string         `json:"manifest-id"`
	RunID       string         `json:"run-id"`
	Symbol      string         `json:"symbol"`
	Interval    string         `json:"interval"`
	Start       string         `json:"start"`
	End         string         `json:"end"`
	GeneratedMs int64          `json:"generated-ms"`
	Files       []ManifestFile `json:"files"`
}

// WriteManifest writes m as {stem}.manifest.json in dir and returns the path.
func WriteManifest(dir, stem string, m Manifest) (string, error) {
	if m.ManifestID == "" {
		m.ManifestID = uuid.NewString()
	}
	if m.GeneratedMs == 0 {
		m.GeneratedMs = time.Now().UnixMilli()
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, stem+".manifest.json")
	if err := os.WriteFile(p, b, 0o644); err != nil {
		return "", err
	}
	return p, nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}
