package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retailsnap/go-scrape-iga/brands"
	"github.com/retailsnap/go-scrape-iga/checkpoint"
	"github.com/retailsnap/go-scrape-iga/config"
	"github.com/retailsnap/go-scrape-iga/models"
	"github.com/retailsnap/go-scrape-iga/scraper"
)

func main() {
	_ = godotenv.Load()

	defaultCfg := config.DefaultConfig()
	brandsDefault := defaultCfg.BrandsCSV
	if value, ok := config.EnvString("IGA_BRANDS_CSV"); ok {
		brandsDefault = value
	}
	storeDefault := defaultCfg.StoreID
	if value, ok, err := config.EnvInt("IGA_STORE_ID"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid IGA_STORE_ID: %v\n", err)
		os.Exit(1)
	} else if ok {
		storeDefault = value
	}
	imagesDefault := defaultCfg.DownloadImages
	if value, ok, err := config.EnvBool("IGA_DOWNLOAD_IMAGES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid IGA_DOWNLOAD_IMAGES: %v\n", err)
		os.Exit(1)
	} else if ok {
		imagesDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("IGA_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Storefront base URL")
	storeID := flag.Int("store-id", storeDefault, "Retailer store id")
	brandsCSV := flag.String("brands", brandsDefault, "Brand list CSV path")
	cacheDir := flag.String("cache-dir", defaultCfg.CacheDir, "Checkpoint cache directory")
	snapshotDir := flag.String("snapshot-dir", defaultCfg.SnapshotDir, "Snapshot output directory")
	imagesDir := flag.String("images-dir", defaultCfg.ImagesDir, "Image output directory")
	pageSize := flag.Int("page-size", defaultCfg.PageSize, "Search page size")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Maximum attempts per page fetch")
	timeoutS := flag.Int("timeout", int(defaultCfg.Timeout/time.Second), "Request timeout (seconds)")
	downloadImages := flag.Bool("images", imagesDefault, "Download one image per new SKU")
	imageWorkers := flag.Int("image-workers", defaultCfg.ImageWorkers, "Parallel image download workers")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.BaseURL = *baseURL
	cfg.StoreID = *storeID
	cfg.BrandsCSV = *brandsCSV
	cfg.CacheDir = *cacheDir
	cfg.SnapshotDir = *snapshotDir
	cfg.ImagesDir = *imagesDir
	cfg.PageSize = *pageSize
	cfg.MaxRetries = *maxRetries
	cfg.Timeout = time.Duration(*timeoutS) * time.Second
	cfg.DownloadImages = *downloadImages
	cfg.ImageWorkers = *imageWorkers
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	brandList, err := brands.LoadCSV(cfg.BrandsCSV)
	if err != nil {
		slog.Error("loading brand list", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("brand list loaded", slog.Int("brands", len(brandList)), slog.String("path", cfg.BrandsCSV))

	store, err := checkpoint.NewStore(cfg.CacheDir)
	if err != nil {
		slog.Error("initialising checkpoint store", slog.Any("error", err))
		os.Exit(1)
	}

	s := scraper.NewScraper(cfg, store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, flushing checkpoints")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	result, err := s.Run(ctx, brandList)
	if err != nil {
		if errors.Is(err, context.Canceled) && result != nil {
			slog.Warn("run interrupted, re-run to resume", slog.String("run_id", result.RunID))
			os.Exit(130)
		}
		slog.Error("run failed", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result)
}

func printSummary(result *models.RunResult) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Snapshot complete")
	fmt.Printf("  Run id:         %s\n", result.RunID)
	fmt.Printf("  Brands:         %d (done=%d skipped=%d failed=%d)\n",
		result.BrandsTotal, result.BrandsDone, result.BrandsSkipped, len(result.FailedBrands))
	fmt.Printf("  Pages fetched:  %d\n", result.PageCount)
	fmt.Printf("  Rows appended:  %d\n", result.RowsAppended)
	fmt.Printf("  Unique SKUs:    %d\n", result.UniqueSKUs)
	fmt.Printf("  Dedup skipped:  %d\n", result.DedupSkipped)
	fmt.Printf("  Images written: %d\n", result.ImagesWritten)
	fmt.Printf("  Snapshot:       rows=%d cols=%d\n", result.SnapshotRows, result.SnapshotCols)
	fmt.Printf("  CSV:            %s\n", result.CSVPath)
	fmt.Printf("  JSONL:          %s\n", result.JSONLPath)
	if len(result.StatusCounts) > 0 {
		fmt.Printf("  Fetch failures: %v\n", result.StatusCounts)
	}
	if len(result.FailedBrands) > 0 {
		fmt.Printf("  Failed brands:  %v (resume on next invocation)\n", result.FailedBrands)
	}
	fmt.Printf("  Duration:       %v\n", result.EndTime.Sub(result.StartTime))
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
