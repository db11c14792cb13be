package scraper

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/retailsnap/go-scrape-iga/checkpoint"
	"github.com/retailsnap/go-scrape-iga/config"
	"github.com/retailsnap/go-scrape-iga/models"
	"github.com/retailsnap/go-scrape-iga/pipeline"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://store.test"
	cfg.StoreID = 206686
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.SnapshotDir = filepath.Join(dir, "snapshots")
	cfg.ImagesDir = filepath.Join(dir, "images")
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond
	cfg.BlockBackoff = 0
	cfg.PageDelayMin = 0
	cfg.PageDelayMax = 0
	return cfg
}

func testScraper(t *testing.T, cfg *config.Config, transport *httpmock.MockTransport) (*Scraper, *checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.NewStore(cfg.CacheDir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	s := NewScraper(cfg, store)
	s.client.http.Transport = transport
	s.client.sleep = func(context.Context, time.Duration) {}
	return s, store
}

func pageItems(prefix string, start, count int) []any {
	items := make([]any, 0, count)
	for i := start; i < start+count; i++ {
		items = append(items, map[string]any{
			"sku":   fmt.Sprintf("%s-%d", prefix, i),
			"name":  fmt.Sprintf("Product %d", i),
			"brand": prefix,
			"price": "$1.00",
			"image": map[string]any{"default": fmt.Sprintf("http://img.test/%s-%d.jpg", prefix, i)},
		})
	}
	return items
}

func jsonlLineCount(t *testing.T, path string) int {
	t.Helper()
	count := 0
	err := pipeline.ReadRows(path, func(models.Row) { count++ })
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read rows: %v", err)
	}
	return count
}

func TestRunTwoPageBrand(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", searchURL, func(req *http.Request) (*http.Response, error) {
		switch req.URL.Query().Get("skip") {
		case "0":
			return httpmock.NewJsonResponse(200, map[string]any{
				"items": pageItems("acme", 0, 50),
				"total": 62,
			})
		case "50":
			return httpmock.NewJsonResponse(200, map[string]any{
				"items": pageItems("acme", 50, 12),
				"total": 62,
			})
		default:
			t.Errorf("unexpected skip %q", req.URL.Query().Get("skip"))
			return httpmock.NewJsonResponse(200, map[string]any{"items": []any{}})
		}
	})

	cfg := testConfig(t)
	s, store := testScraper(t, cfg, transport)

	result, err := s.Run(context.Background(), []string{"Acme"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.RequestCount != 2 {
		t.Fatalf("fetches = %d, want exactly 2", result.RequestCount)
	}
	if result.RowsAppended != 62 {
		t.Fatalf("rows appended = %d, want 62", result.RowsAppended)
	}
	if result.BrandsDone != 1 {
		t.Fatalf("brands done = %d, want 1", result.BrandsDone)
	}
	if result.SnapshotRows != 62 {
		t.Fatalf("snapshot rows = %d, want 62", result.SnapshotRows)
	}

	st, ok := store.LoadBrandProgress()["acme"]
	if !ok {
		t.Fatalf("missing brand state")
	}
	if !st.Done {
		t.Fatalf("brand should be done: %+v", st)
	}
	if st.Skip != 62 {
		t.Fatalf("offset checkpoint = %d, want 62", st.Skip)
	}
	if st.Total == nil || *st.Total != 62 {
		t.Fatalf("learned total = %v, want 62", st.Total)
	}

	if got := jsonlLineCount(t, result.JSONLPath); got != 62 {
		t.Fatalf("jsonl rows = %d, want 62", got)
	}
	if _, err := os.Stat(result.CSVPath); err != nil {
		t.Fatalf("snapshot csv missing: %v", err)
	}

	rp := store.LoadRun()
	if rp == nil || rp.Status != models.RunDone {
		t.Fatalf("run should be DONE, got %+v", rp)
	}
}

func TestRunBlockedBrandContinues(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", searchURL, func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("q") == "Doomed" {
			return httpmock.NewStringResponse(403, ""), nil
		}
		return httpmock.NewJsonResponse(200, map[string]any{
			"items": pageItems("fine", 0, 2),
			"total": 2,
		})
	})

	cfg := testConfig(t)
	s, store := testScraper(t, cfg, transport)

	result, err := s.Run(context.Background(), []string{"Doomed", "Fine"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(result.FailedBrands) != 1 || result.FailedBrands[0] != "Doomed" {
		t.Fatalf("failed brands = %v, want [Doomed]", result.FailedBrands)
	}
	if result.StatusCounts[string(StatusBlocked)] != 1 {
		t.Fatalf("status counts = %v, want one BLOCKED", result.StatusCounts)
	}

	bp := store.LoadBrandProgress()
	doomed := bp["doomed"]
	if doomed.Done || doomed.Skip != 0 {
		t.Fatalf("doomed state = %+v, want done=false at pre-fetch offset", doomed)
	}
	if !bp["fine"].Done {
		t.Fatalf("fine state = %+v, want done", bp["fine"])
	}

	// The finalize pass still runs with whatever was collected.
	if result.SnapshotRows != 2 {
		t.Fatalf("snapshot rows = %d, want 2", result.SnapshotRows)
	}
	if rp := store.LoadRun(); rp == nil || rp.Status != models.RunDone {
		t.Fatalf("run should finish DONE, got %+v", rp)
	}
}

func TestRunCrossRunDedup(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", searchURL, func(req *http.Request) (*http.Response, error) {
		return httpmock.NewJsonResponse(200, map[string]any{
			"items": pageItems("acme", 0, 2), // acme-0, acme-1
			"total": 2,
		})
	})

	cfg := testConfig(t)
	s, store := testScraper(t, cfg, transport)

	// acme-0 was seen by a previous run.
	index := store.LoadSKUIndex()
	checkpoint.TouchSKU(index, "acme-0", "Acme", time.Now().Add(-24*time.Hour))
	if err := store.SaveSKUIndex(index); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	result, err := s.Run(context.Background(), []string{"Acme"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.RowsAppended != 1 {
		t.Fatalf("rows appended = %d, want 1 (acme-0 deduped)", result.RowsAppended)
	}
	if got := jsonlLineCount(t, result.JSONLPath); got != 1 {
		t.Fatalf("jsonl rows = %d, want 1", got)
	}

	reloaded := store.LoadSKUIndex()
	if len(reloaded) != 2 {
		t.Fatalf("index size = %d, want 2", len(reloaded))
	}
	// The seen SKU's audit entry was still touched.
	entry := reloaded["acme-0"]
	if entry.LastSeen == entry.FirstSeen {
		t.Fatalf("acme-0 last_seen not updated: %+v", entry)
	}
}

func TestRunSkipsCompletedBrands(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", searchURL, func(req *http.Request) (*http.Response, error) {
		t.Errorf("no request expected for a completed brand")
		return httpmock.NewJsonResponse(200, map[string]any{"items": []any{}})
	})

	cfg := testConfig(t)
	s, store := testScraper(t, cfg, transport)

	total := 10
	if err := store.SaveBrandProgress(map[string]models.BrandState{
		"acme": {Skip: 10, Done: true, Total: &total, Brand: "Acme"},
	}); err != nil {
		t.Fatalf("seed progress: %v", err)
	}

	result, err := s.Run(context.Background(), []string{"Acme"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RequestCount != 0 {
		t.Fatalf("fetches = %d, want 0", result.RequestCount)
	}
	if result.BrandsSkipped != 1 {
		t.Fatalf("brands skipped = %d, want 1", result.BrandsSkipped)
	}
}

func TestRunResumesFromPersistedOffset(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var firstSkip string
	transport.RegisterResponder("GET", searchURL, func(req *http.Request) (*http.Response, error) {
		if firstSkip == "" {
			firstSkip = req.URL.Query().Get("skip")
		}
		return httpmock.NewJsonResponse(200, map[string]any{
			"items": pageItems("acme", 50, 5),
			"total": 55,
		})
	})

	cfg := testConfig(t)
	s, store := testScraper(t, cfg, transport)

	// An interrupted brand resumes at its checkpointed offset, even though
	// the run-level brand index already passed it.
	total := 55
	if err := store.SaveBrandProgress(map[string]models.BrandState{
		"acme": {Skip: 50, Done: false, Total: &total, Brand: "Acme"},
	}); err != nil {
		t.Fatalf("seed progress: %v", err)
	}
	if _, err := store.InitRun("20260830_100000", cfg.StoreID, 1, time.Now()); err != nil {
		t.Fatalf("init run: %v", err)
	}
	rp := store.LoadRun()
	rp.LastBrandIndex = 0
	if err := store.SaveRun(rp); err != nil {
		t.Fatalf("save run: %v", err)
	}

	result, err := s.Run(context.Background(), []string{"Acme"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if firstSkip != "50" {
		t.Fatalf("first fetch skip = %q, want 50", firstSkip)
	}
	if result.RunID != "20260830_100000" {
		t.Fatalf("run id = %q, want resumed id", result.RunID)
	}
	if !store.LoadBrandProgress()["acme"].Done {
		t.Fatalf("brand should finish after resumed short page")
	}
}

func TestRunInterruptFlushesCheckpoints(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", searchURL, func(req *http.Request) (*http.Response, error) {
		return httpmock.NewJsonResponse(200, map[string]any{"items": []any{}})
	})

	cfg := testConfig(t)
	s, store := testScraper(t, cfg, transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx, []string{"Acme"})
	if err == nil {
		t.Fatalf("expected context error")
	}

	rp := store.LoadRun()
	if rp == nil || rp.Status != models.RunRunning {
		t.Fatalf("interrupted run should stay RUNNING, got %+v", rp)
	}
}

func TestRunEmptySKUDroppedSilently(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", searchURL, func(req *http.Request) (*http.Response, error) {
		return httpmock.NewJsonResponse(200, map[string]any{
			"items": []any{
				map[string]any{"name": "no identity"},
				map[string]any{"sku": "S1", "name": "keeper"},
			},
			"total": 2,
		})
	})

	cfg := testConfig(t)
	s, store := testScraper(t, cfg, transport)

	result, err := s.Run(context.Background(), []string{"Acme"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RowsAppended != 1 {
		t.Fatalf("rows appended = %d, want 1", result.RowsAppended)
	}
	if got := len(store.LoadSKUIndex()); got != 1 {
		t.Fatalf("index size = %d, want 1", got)
	}
}
