// Package images downloads one product image per new SKU, best-effort and
// idempotent: files that already exist non-empty are never re-fetched.
package images

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/retailsnap/go-scrape-iga/models"
)

const retailerDir = "iga"

// Fetcher downloads images with a bounded-parallelism async collector.
// Tasks are independent; only the aggregate written count is reported.
type Fetcher struct {
	rootDir   string
	collector *colly.Collector
	written   atomic.Int64
}

// NewFetcher builds a fetcher writing under rootDir/iga with the given
// worker parallelism.
func NewFetcher(rootDir string, workers int, timeout time.Duration, userAgent string) *Fetcher {
	collector := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(userAgent),
	)
	collector.SetRequestTimeout(timeout)
	collector.IgnoreRobotsTxt = true
	collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: workers,
	})

	f := &Fetcher{
		rootDir:   rootDir,
		collector: collector,
	}

	collector.OnResponse(func(r *colly.Response) {
		sku := r.Ctx.Get("sku")
		if sku == "" {
			return
		}
		if r.StatusCode != http.StatusOK || len(r.Body) == 0 {
			return
		}
		if f.writeImage(sku, r.Body) {
			f.written.Add(1)
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		slog.Debug("image download failed",
			slog.String("url", r.Request.URL.String()),
			slog.Any("error", err),
		)
	})

	return f
}

// Fetch runs all tasks and returns how many images were newly written.
// Existing non-empty files are skipped without a network call.
func (f *Fetcher) Fetch(ctx context.Context, tasks []models.ImageTask) int {
	dir := filepath.Join(f.rootDir, retailerDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("create images dir", slog.String("dir", dir), slog.Any("error", err))
		return 0
	}

	slog.Info("image download starting", slog.Int("tasks", len(tasks)))

	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if task.SKU == "" || task.URL == "" {
			continue
		}
		if exists(f.localPath(task.SKU)) {
			continue
		}

		reqCtx := colly.NewContext()
		reqCtx.Put("sku", task.SKU)
		if err := f.collector.Request(http.MethodGet, task.URL, nil, reqCtx, nil); err != nil {
			slog.Debug("image request rejected", slog.String("url", task.URL), slog.Any("error", err))
		}
	}

	f.collector.Wait()

	written := int(f.written.Load())
	slog.Info("image download finished", slog.Int("written", written))
	return written
}

func (f *Fetcher) localPath(sku string) string {
	return filepath.Join(f.rootDir, retailerDir, sku+".jpg")
}

// writeImage stores body under the SKU's path via a temp file and atomic
// rename. Duplicate tasks for the same SKU are safe: the existence check
// re-runs here and the rename is all-or-nothing.
func (f *Fetcher) writeImage(sku string, body []byte) bool {
	local := f.localPath(sku)
	if exists(local) {
		return false
	}

	tmp := local + ".part"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		os.Remove(tmp)
		return false
	}
	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return false
	}
	return true
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
