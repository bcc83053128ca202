package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const metaVersion = 1

// Meta is the cache directory's top-level descriptor, validated against
// the caller's configured embedding model/dimension before a load
// succeeds (spec.md §3 "Cache meta").
type Meta struct {
	Version            int       `json:"version"`
	EmbeddingModel     string    `json:"embedding_model"`
	EmbeddingDimension int       `json:"embedding_dimension"`
	LastSaveTime       time.Time `json:"last_save_time"`
	FilesIndexed       int       `json:"files_indexed"`
	ChunksStored       int       `json:"chunks_stored"`
	Workspace          string    `json:"workspace"`
}

func loadMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("parse meta.json: %w", err)
	}
	return m, nil
}

func saveMeta(path string, m Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta.json: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write meta.json: %w", err)
	}
	return os.Rename(tmp, path)
}
