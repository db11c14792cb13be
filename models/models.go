// Package models defines data structures for the scraper.
package models

import "time"

// TimeLayout is the timestamp format used in rows and checkpoint documents.
const TimeLayout = "2006-01-02 15:04:05"

// Timestamp formats t in the checkpoint timestamp layout.
func Timestamp(t time.Time) string {
	return t.Format(TimeLayout)
}

// Row is one flattened product record as appended to the JSONL snapshot.
// Keys mix dotted flattened item paths with the fixed core columns.
type Row map[string]any

// Core column names present on every row.
const (
	ColRetailer        = "Retailer"
	ColStoreID         = "StoreId"
	ColSKU             = "SKU"
	ColName            = "Name"
	ColBrandName       = "BrandName"
	ColBarcode         = "Barcode"
	ColAvailable       = "Available"
	ColSellBy          = "SellBy"
	ColPriceDisplay    = "PriceDisplay"
	ColPriceNumeric    = "PriceNumeric"
	ColWasPriceDisplay = "WasPriceDisplay"
	ColWasPriceNumeric = "WasPriceNumeric"
	ColPriceLabel      = "PriceLabel"
	ColPriceSource     = "PriceSource"
	ColPricePerUnit    = "PricePerUnit"
	ColPrimaryImageURL = "PrimaryImageUrl"
	ColScrapedAt       = "ScrapedAt"
	ColRunID           = "RunId"
	ColBrandQuery      = "BrandQuery"
	ColRawJSON         = "RawJson"
)

// SKU returns the row's SKU column, or "" when absent.
func (r Row) SKU() string {
	if v, ok := r[ColSKU].(string); ok {
		return v
	}
	return ""
}

// RunStatus is the lifecycle state of a scraping run.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunDone    RunStatus = "DONE"
)

// RunProgress is the persisted run-level checkpoint document.
type RunProgress struct {
	Status         RunStatus `json:"status"`
	RunID          string    `json:"run_id"`
	StoreID        int       `json:"store_id"`
	BrandsCount    int       `json:"brands_count"`
	StartedAt      string    `json:"started_at"`
	UpdatedAt      string    `json:"updated_at"`
	FinishedAt     string    `json:"finished_at,omitempty"`
	LastBrandIndex int       `json:"last_brand_index"`
}

// BrandState is the per-brand pagination cursor, keyed in the brand
// progress document by the normalized brand name.
type BrandState struct {
	Skip      int    `json:"skip"`
	Done      bool   `json:"done"`
	Total     *int   `json:"total"`
	Brand     string `json:"brand"`
	UpdatedAt string `json:"updated_at"`
}

// SKUEntry is the per-SKU audit record in the global SKU index. The index
// persists across runs, so dedup spans every prior run as well.
type SKUEntry struct {
	FirstSeen string   `json:"first_seen"`
	LastSeen  string   `json:"last_seen"`
	Brands    []string `json:"brands"`
}

// ImageTask is one pending (SKU, image URL) download.
type ImageTask struct {
	SKU string
	URL string
}

// RunResult summarizes one invocation of the scraper.
type RunResult struct {
	RunID         string
	StartTime     time.Time
	EndTime       time.Time
	BrandsTotal   int
	BrandsDone    int
	BrandsSkipped int
	FailedBrands  []string
	PageCount     int
	RequestCount  int
	RowsAppended  int
	DedupSkipped  int
	UniqueSKUs    int
	ImagesWritten int
	SnapshotRows  int
	SnapshotCols  int
	CSVPath       string
	JSONLPath     string
	StatusCounts  map[string]int
}
