// Package result writes the persisted run document at COMPLETED. Field
// names and nesting are part of the contract for downstream tooling.
package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dirgogoo/mdap/pkg/config"
	"github.com/dirgogoo/mdap/pkg/models"
)

// Metrics summarizes run consumption.
type Metrics struct {
	Iterations int     `json:"iterations"` // MDAP decisions taken
	APICalls   int     `json:"api_calls"`
	TotalTime  float64 `json:"total_time"` // seconds
	Tokens     int     `json:"tokens"`
	CostUSD    float64 `json:"cost_usd"`
}

// Document is the structured run artifact.
type Document struct {
	Task         string            `json:"task"`
	Config       *config.Config    `json:"config"`
	Requirements []string          `json:"requirements"`
	Functions    []models.Function `json:"functions"`
	Code         map[string]string `json:"code"`
	Metrics      Metrics           `json:"metrics"`
}

// Write persists the document atomically: marshal to a temp file in the
// target directory, then rename over the destination.
func Write(path string, doc Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result document: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".mdap-result-*")
	if err != nil {
		return fmt.Errorf("creating temp result file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing result document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing result document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming result document: %w", err)
	}
	return nil
}

// Read loads a previously written document.
func Read(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading result document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decoding result document: %w", err)
	}
	return doc, nil
}
