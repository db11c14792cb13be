// Package checkpoint persists run, brand, and SKU progress as three small
// whole-file JSON documents, enabling resume after interruption.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/retailsnap/go-scrape-iga/models"
)

const (
	runProgressFile   = "run_progress.json"
	brandProgressFile = "brand_progress.json"
	skuIndexFile      = "sku_index.json"

	runIDLayout = "20060102_150405"
)

// Store reads and writes the checkpoint documents under a cache directory.
// Only the sequential pagination phase writes through a Store; there are no
// concurrent writers.
type Store struct {
	dir string
}

// NewStore creates the cache directory if needed and returns a Store over it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the cache directory path.
func (s *Store) Dir() string {
	return s.dir
}

// LoadRun returns the persisted run document, or nil when absent or unreadable.
func (s *Store) LoadRun() *models.RunProgress {
	var rp models.RunProgress
	if !s.loadJSON(runProgressFile, &rp) {
		return nil
	}
	return &rp
}

// SaveRun persists the run document.
func (s *Store) SaveRun(rp *models.RunProgress) error {
	return s.saveJSON(runProgressFile, rp)
}

// LoadBrandProgress returns the per-brand state map, empty when absent.
func (s *Store) LoadBrandProgress() map[string]models.BrandState {
	bp := make(map[string]models.BrandState)
	s.loadJSON(brandProgressFile, &bp)
	return bp
}

// SaveBrandProgress persists the per-brand state map.
func (s *Store) SaveBrandProgress(bp map[string]models.BrandState) error {
	return s.saveJSON(brandProgressFile, bp)
}

// LoadSKUIndex returns the global SKU index, empty when absent. The index
// spans all prior runs; its keys seed the cross-run dedup set.
func (s *Store) LoadSKUIndex() map[string]models.SKUEntry {
	si := make(map[string]models.SKUEntry)
	s.loadJSON(skuIndexFile, &si)
	return si
}

// SaveSKUIndex persists the global SKU index.
func (s *Store) SaveSKUIndex(si map[string]models.SKUEntry) error {
	return s.saveJSON(skuIndexFile, si)
}

// ResumeOrNewRunID reuses the run id of an unfinished persisted run, so the
// same snapshot files keep growing; otherwise it mints a fresh timestamp id.
func (s *Store) ResumeOrNewRunID(now time.Time) string {
	if rp := s.LoadRun(); rp != nil && rp.Status == models.RunRunning && rp.RunID != "" {
		return rp.RunID
	}
	return now.Format(runIDLayout)
}

// InitRun returns the persisted run document when it matches a running runID,
// or creates and persists a fresh one.
func (s *Store) InitRun(runID string, storeID, brandsCount int, now time.Time) (*models.RunProgress, error) {
	if rp := s.LoadRun(); rp != nil && rp.Status == models.RunRunning && rp.RunID == runID {
		return rp, nil
	}

	rp := &models.RunProgress{
		Status:         models.RunRunning,
		RunID:          runID,
		StoreID:        storeID,
		BrandsCount:    brandsCount,
		StartedAt:      models.Timestamp(now),
		UpdatedAt:      models.Timestamp(now),
		LastBrandIndex: -1,
	}
	if err := s.SaveRun(rp); err != nil {
		return nil, err
	}
	return rp, nil
}

// MarkRunDone transitions the persisted run to DONE with a finish timestamp.
// A run document belonging to a different run id is left untouched.
func (s *Store) MarkRunDone(runID string, now time.Time) error {
	rp := s.LoadRun()
	if rp == nil || rp.RunID != runID {
		return nil
	}
	rp.Status = models.RunDone
	rp.FinishedAt = models.Timestamp(now)
	rp.UpdatedAt = models.Timestamp(now)
	return s.SaveRun(rp)
}

// TouchSKU records an observation of sku under brand: first sight creates the
// entry, later sights update last_seen and the brand association list.
func TouchSKU(si map[string]models.SKUEntry, sku, brand string, now time.Time) {
	if sku == "" {
		return
	}
	ts := models.Timestamp(now)
	entry, ok := si[sku]
	if !ok {
		si[sku] = models.SKUEntry{FirstSeen: ts, LastSeen: ts, Brands: []string{brand}}
		return
	}
	entry.LastSeen = ts
	if !contains(entry.Brands, brand) {
		entry.Brands = append(entry.Brands, brand)
	}
	si[sku] = entry
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// loadJSON fills dst from a document file. Missing or corrupt documents are
// treated as absent so a damaged cache never blocks a fresh run.
func (s *Store) loadJSON(name string, dst any) bool {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false
	}
	return true
}

// saveJSON rewrites a document atomically via a temp file and rename.
func (s *Store) saveJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		rmErr := os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", name, errors.Join(err, rmErr))
	}
	return nil
}
