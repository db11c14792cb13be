package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL      string
	StoreID      int
	ShoppingMode string // value of the iga-shop.shoppingMode cookie

	BrandsCSV   string
	CacheDir    string
	SnapshotDir string
	ImagesDir   string

	PageSize     int
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	BlockBackoff time.Duration // floor applied after a BLOCKED response
	PageDelayMin time.Duration
	PageDelayMax time.Duration

	AutosaveBrands int // flush checkpoints every N completed brands
	AutosavePages  int // flush checkpoints every N pages within a brand

	DownloadImages bool
	ImageWorkers   int

	DedupeMaxSize int // capacity of the row writer's seen-SKU cache

	UserAgent   string
	MetricsAddr string
	Verbose     bool
}

// DefaultConfig returns the defaults for the IGA storefront target. These
// reproduce the flagless invocation of the weekly snapshot job.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "https://www.igashop.com.au",
		StoreID:      206686,
		ShoppingMode: "Pickup",

		BrandsCSV:   "brands_to_scrape_optimal_IGA_website.csv",
		CacheDir:    "iga_cache",
		SnapshotDir: "iga_scraped_product",
		ImagesDir:   "images",

		PageSize:     50,
		Timeout:      25 * time.Second,
		MaxRetries:   4,
		RetryBackoff: time.Second,
		BlockBackoff: 10 * time.Second,
		PageDelayMin: 350 * time.Millisecond,
		PageDelayMax: 950 * time.Millisecond,

		AutosaveBrands: 3,
		AutosavePages:  10,

		DownloadImages: false,
		ImageWorkers:   16,

		DedupeMaxSize: 1 << 20,

		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
			"AppleWebKit/537.36 (KHTML, like Gecko) " +
			"Chrome/143.0.0.0 Safari/537.36",
		MetricsAddr: "",
		Verbose:     false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.StoreID <= 0 {
		return fmt.Errorf("store id must be positive")
	}
	if c.BrandsCSV == "" {
		return fmt.Errorf("brands csv path cannot be empty")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache dir cannot be empty")
	}
	if c.SnapshotDir == "" {
		return fmt.Errorf("snapshot dir cannot be empty")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.BlockBackoff < 0 {
		return fmt.Errorf("block backoff cannot be negative")
	}
	if c.PageDelayMin < 0 || c.PageDelayMax < 0 {
		return fmt.Errorf("page delay cannot be negative")
	}
	if c.PageDelayMax < c.PageDelayMin {
		return fmt.Errorf("page delay max (%s) cannot be below min (%s)", c.PageDelayMax, c.PageDelayMin)
	}
	if c.AutosaveBrands <= 0 {
		return fmt.Errorf("autosave brands must be positive")
	}
	if c.AutosavePages <= 0 {
		return fmt.Errorf("autosave pages must be positive")
	}
	if c.DownloadImages {
		if c.ImagesDir == "" {
			return fmt.Errorf("images dir cannot be empty when image download is enabled")
		}
		if c.ImageWorkers <= 0 {
			return fmt.Errorf("image workers must be positive")
		}
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}
