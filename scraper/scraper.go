// Package scraper implements the sequential brand-by-brand pagination loop
// over the storefront search API, with checkpointed resume and cross-run
// SKU deduplication.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/retailsnap/go-scrape-iga/checkpoint"
	"github.com/retailsnap/go-scrape-iga/config"
	"github.com/retailsnap/go-scrape-iga/images"
	"github.com/retailsnap/go-scrape-iga/models"
	"github.com/retailsnap/go-scrape-iga/parser"
	"github.com/retailsnap/go-scrape-iga/pipeline"
)

// Scraper drives one scraping run: pagination, dedup, checkpoints, the
// optional image pass, and snapshot finalization.
type Scraper struct {
	cfg     *config.Config
	store   *checkpoint.Store
	client  *Client
	Metrics *Metrics

	now func() time.Time
}

// NewScraper builds a scraper over a checkpoint store.
func NewScraper(cfg *config.Config, store *checkpoint.Store) *Scraper {
	metrics := NewMetrics()
	return &Scraper{
		cfg:     cfg,
		store:   store,
		client:  NewClient(cfg, metrics),
		Metrics: metrics,
		now:     time.Now,
	}
}

// runState is the mutable checkpoint state threaded through one run. All
// mutation happens on the single sequential pagination goroutine; each
// persist is an explicit save of these in-memory documents.
type runState struct {
	run      *models.RunProgress
	brands   map[string]models.BrandState
	skuIndex map[string]models.SKUEntry
}

// Run executes the full run against the given brand list and returns a
// summary. Fetch failures on a brand abort only that brand; interruption via
// ctx flushes checkpoints and returns the context error.
func (s *Scraper) Run(ctx context.Context, brandList []string) (*models.RunResult, error) {
	start := s.now()
	runID := s.store.ResumeOrNewRunID(start)

	run, err := s.store.InitRun(runID, s.cfg.StoreID, len(brandList), start)
	if err != nil {
		return nil, fmt.Errorf("init run: %w", err)
	}
	state := &runState{
		run:      run,
		brands:   s.store.LoadBrandProgress(),
		skuIndex: s.store.LoadSKUIndex(),
	}

	jsonlPath := filepath.Join(s.cfg.SnapshotDir, fmt.Sprintf("iga_all_products_%s.jsonl", runID))
	csvPath := filepath.Join(s.cfg.SnapshotDir, fmt.Sprintf("iga_all_products_%s.csv", runID))

	writer, err := pipeline.OpenRowWriter(jsonlPath, s.cfg.DedupeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("open row writer: %w", err)
	}
	defer writer.Close()

	sessionID := uuid.NewString()

	result := &models.RunResult{
		RunID:        runID,
		StartTime:    start,
		BrandsTotal:  len(brandList),
		CSVPath:      csvPath,
		JSONLPath:    jsonlPath,
		StatusCounts: make(map[string]int),
	}

	slog.Info("run starting",
		slog.String("run_id", runID),
		slog.Int("store_id", s.cfg.StoreID),
		slog.Int("brands", len(brandList)),
		slog.Int("page_size", s.cfg.PageSize),
		slog.Bool("download_images", s.cfg.DownloadImages),
		slog.Int("seen_skus", len(state.skuIndex)),
	)

	var imageTasks []models.ImageTask
	interrupted := false

	for bi, brand := range brandList {
		if ctx.Err() != nil {
			interrupted = true
			break
		}

		key := parser.NormalizeBrandKey(brand)
		if key == "" {
			continue
		}

		// Resume consults per-brand completion, not the run-level brand
		// index: a brand interrupted mid-pagination is re-entered at its
		// persisted offset even if the coarse index already passed it.
		if st, ok := state.brands[key]; ok && st.Done {
			result.BrandsSkipped++
			continue
		}

		done, aborted := s.scrapeBrand(ctx, state, writer, brand, key, bi, sessionID, result, &imageTasks)
		if done {
			result.BrandsDone++
		}
		if aborted {
			result.FailedBrands = append(result.FailedBrands, brand)
		}

		if (bi+1)%s.cfg.AutosaveBrands == 0 {
			s.autosave(state, bi)
		}
	}

	// Flush whatever the loop accumulated, including on interruption.
	s.autosave(state, state.run.LastBrandIndex)
	result.UniqueSKUs = len(state.skuIndex)
	result.RowsAppended = writer.Appended()
	result.DedupSkipped = writer.Skipped()

	if interrupted {
		slog.Warn("run interrupted, checkpoints flushed", slog.String("run_id", runID))
		return result, ctx.Err()
	}

	if s.cfg.DownloadImages && len(imageTasks) > 0 {
		fetcher := images.NewFetcher(s.cfg.ImagesDir, s.cfg.ImageWorkers, s.cfg.Timeout, s.cfg.UserAgent)
		written := fetcher.Fetch(ctx, imageTasks)
		s.Metrics.AddImagesWritten(written)
		result.ImagesWritten = written
	}

	rows, cols, err := pipeline.BuildSnapshot(jsonlPath, csvPath, parser.StandardizeColumns)
	if err != nil {
		return result, fmt.Errorf("build snapshot: %w", err)
	}
	result.SnapshotRows = rows
	result.SnapshotCols = cols

	if err := s.store.MarkRunDone(runID, s.now()); err != nil {
		return result, fmt.Errorf("mark run done: %w", err)
	}

	result.EndTime = s.now()
	slog.Info("run finished",
		slog.String("run_id", runID),
		slog.Int("rows", rows),
		slog.Int("cols", cols),
		slog.Int("unique_skus", result.UniqueSKUs),
		slog.Int("images_written", result.ImagesWritten),
	)
	return result, nil
}

// scrapeBrand pages through one brand from its persisted offset. It reports
// whether the brand finished and whether it aborted on a fetch failure.
func (s *Scraper) scrapeBrand(
	ctx context.Context,
	state *runState,
	writer *pipeline.RowWriter,
	brand, key string,
	brandIndex int,
	sessionID string,
	result *models.RunResult,
	imageTasks *[]models.ImageTask,
) (bool, bool) {
	st, ok := state.brands[key]
	if !ok {
		st = models.BrandState{Brand: brand}
	}

	skip := st.Skip
	total := st.Total
	pages := 0

	slog.Info("brand starting",
		slog.Int("index", brandIndex+1),
		slog.Int("total_brands", result.BrandsTotal),
		slog.String("brand", brand),
		slog.Int("skip", skip),
	)

	saveBrand := func(done bool) {
		state.brands[key] = models.BrandState{
			Skip:      skip,
			Done:      done,
			Total:     total,
			Brand:     brand,
			UpdatedAt: models.Timestamp(s.now()),
		}
	}

	for {
		if ctx.Err() != nil {
			saveBrand(false)
			return false, false
		}

		payload, status := s.client.FetchSearchPage(ctx, brand, sessionID, s.cfg.PageSize, skip)
		result.RequestCount++
		if !status.OK() {
			result.StatusCounts[string(status)]++
			slog.Warn("brand aborted",
				slog.String("brand", brand),
				slog.Int("skip", skip),
				slog.String("status", string(status)),
			)
			saveBrand(false)
			s.autosave(state, brandIndex)
			return false, true
		}

		s.Metrics.IncPages()
		result.PageCount++
		pages++

		if total == nil {
			if t, ok := parser.ExtractTotal(payload); ok {
				total = &t
			}
		}

		items := parser.ExtractItems(payload)
		if len(items) == 0 {
			saveBrand(true)
			s.autosave(state, brandIndex)
			slog.Info("brand done", slog.String("brand", brand), slog.Int("total", totalOrMinusOne(total)))
			return true, false
		}

		added := 0
		for _, item := range items {
			sku := parser.ExtractSKU(item)
			if sku == "" {
				continue
			}

			_, seen := state.skuIndex[sku]
			checkpoint.TouchSKU(state.skuIndex, sku, brand, s.now())
			if seen {
				s.Metrics.IncDedupSkipped()
				continue
			}

			row := parser.ItemToRow(item, brand, state.run.RunID, s.cfg.StoreID, s.now())
			written, err := writer.Append(row)
			if err != nil {
				slog.Error("row append failed", slog.String("sku", sku), slog.Any("error", err))
				continue
			}
			if !written {
				s.Metrics.IncDedupSkipped()
				continue
			}
			s.Metrics.IncRows()
			added++

			if s.cfg.DownloadImages {
				if imgURL, _ := row[models.ColPrimaryImageURL].(string); imgURL != "" {
					*imageTasks = append(*imageTasks, models.ImageTask{SKU: sku, URL: imgURL})
				}
			}
		}

		slog.Debug("brand page",
			slog.String("brand", brand),
			slog.Int("skip", skip),
			slog.Int("items", len(items)),
			slog.Int("new_rows", added),
		)

		// Advance by the items actually returned, so the persisted offset
		// after a short final page reflects the true item count.
		short := len(items) < s.cfg.PageSize
		skip += len(items)
		saveBrand(false)

		if pages%s.cfg.AutosavePages == 0 {
			s.autosave(state, brandIndex)
		}

		if short || (total != nil && skip >= *total) {
			saveBrand(true)
			s.autosave(state, brandIndex)
			slog.Info("brand done", slog.String("brand", brand), slog.Int("total", totalOrMinusOne(total)))
			return true, false
		}

		s.client.PageDelay(ctx)
	}
}

func totalOrMinusOne(total *int) int {
	if total == nil {
		return -1
	}
	return *total
}

// autosave persists all three checkpoint documents. The run-level brand
// index is kept for audit parity with older cache files even though resume
// is gated on per-brand completion.
func (s *Scraper) autosave(state *runState, brandIndex int) {
	if brandIndex > state.run.LastBrandIndex {
		state.run.LastBrandIndex = brandIndex
	}
	state.run.UpdatedAt = models.Timestamp(s.now())

	if err := s.store.SaveRun(state.run); err != nil {
		slog.Error("save run progress", slog.Any("error", err))
	}
	if err := s.store.SaveBrandProgress(state.brands); err != nil {
		slog.Error("save brand progress", slog.Any("error", err))
	}
	if err := s.store.SaveSKUIndex(state.skuIndex); err != nil {
		slog.Error("save sku index", slog.Any("error", err))
	}
}
