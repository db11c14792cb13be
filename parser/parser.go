// Package parser extracts fields from search payloads and flattens dynamic
// API items into deterministic flat records.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/retailsnap/go-scrape-iga/models"
)

const (
	// FlattenPrefix roots every flattened item key.
	FlattenPrefix = "iga"

	flattenSep      = "."
	flattenMaxDepth = 20
)

var (
	spaceRe    = regexp.MustCompile(`\s+`)
	nonAlnumRe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)
	underRe    = regexp.MustCompile(`_+`)
)

// NormalizeBrandKey returns the dedup identity of a brand display name:
// trimmed, lowercased, inner whitespace collapsed to single spaces.
func NormalizeBrandKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return spaceRe.ReplaceAllString(s, " ")
}

// SafeString renders an arbitrary JSON value as a string, with nil as "".
func SafeString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// ExtractItems returns the payload's item list, keeping only object entries.
func ExtractItems(payload map[string]any) []map[string]any {
	raw, ok := payload["items"].([]any)
	if !ok {
		return nil
	}
	items := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if item, ok := entry.(map[string]any); ok {
			items = append(items, item)
		}
	}
	return items
}

// ExtractTotal returns the payload's total result count when present.
// JSON numbers decode as float64; only integral values are accepted.
func ExtractTotal(payload map[string]any) (int, bool) {
	f, ok := payload["total"].(float64)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// ExtractSKU returns the item's SKU, preferring the sku field and falling
// back to productId. Empty means the item carries no usable identity.
func ExtractSKU(item map[string]any) string {
	if sku := strings.TrimSpace(SafeString(item["sku"])); sku != "" {
		return sku
	}
	return strings.TrimSpace(SafeString(item["productId"]))
}

// ExtractPrimaryImageURL returns the first usable image variant URL.
func ExtractPrimaryImageURL(item map[string]any) string {
	img, ok := item["image"].(map[string]any)
	if !ok {
		return ""
	}
	for _, variant := range []string{"default", "details", "cell", "zoom"} {
		if u := SafeString(img[variant]); u != "" {
			return u
		}
	}
	return ""
}

// Flatten converts an arbitrary JSON value into a flat map: nested objects
// become dotted-path keys under prefix, lists become serialized JSON strings,
// scalars pass through. Depth is capped; anything deeper is serialized whole.
func Flatten(v any, prefix string) models.Row {
	out := models.Row{}
	flattenInto(out, v, prefix, 0)
	return out
}

func flattenInto(out models.Row, v any, key string, depth int) {
	if depth > flattenMaxDepth {
		out[key] = marshalString(v)
		return
	}
	switch value := v.(type) {
	case map[string]any:
		for k, nested := range value {
			nk := k
			if key != "" {
				nk = key + flattenSep + k
			}
			flattenInto(out, nested, nk, depth+1)
		}
	case []any:
		out[key] = marshalString(value)
	default:
		out[key] = value
	}
}

func marshalString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return SafeString(v)
	}
	return string(b)
}

// StandardizeColumn converts a raw row key into a CSV-safe column name:
// dots and whitespace become underscores, other symbols collapse to
// underscores, runs of underscores shrink, and the result is lowercased.
func StandardizeColumn(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, ".", "_")
	name = spaceRe.ReplaceAllString(name, "_")
	name = nonAlnumRe.ReplaceAllString(name, "_")
	name = underRe.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	return strings.ToLower(name)
}

// StandardizeColumns maps raw keys to standardized names, disambiguating
// collisions with positional suffixes (_2, _3, ...).
func StandardizeColumns(raw []string) []string {
	seen := make(map[string]int, len(raw))
	out := make([]string, 0, len(raw))
	for _, name := range raw {
		std := StandardizeColumn(name)
		if n, ok := seen[std]; ok {
			seen[std] = n + 1
			out = append(out, fmt.Sprintf("%s_%d", std, n+1))
			continue
		}
		seen[std] = 1
		out = append(out, std)
	}
	return out
}

// ItemToRow materializes one API item as a snapshot row: the flattened item
// plus the fixed core columns. Core columns win on key collisions.
func ItemToRow(item map[string]any, brandQuery, runID string, storeID int, scrapedAt time.Time) models.Row {
	row := Flatten(item, FlattenPrefix)

	row[models.ColRetailer] = "IGA"
	row[models.ColStoreID] = storeID
	row[models.ColSKU] = ExtractSKU(item)
	row[models.ColName] = SafeString(item["name"])
	row[models.ColBrandName] = SafeString(item["brand"])
	row[models.ColBarcode] = SafeString(item["barcode"])
	row[models.ColAvailable] = orEmpty(item["available"])
	row[models.ColSellBy] = SafeString(item["sellBy"])
	row[models.ColPriceDisplay] = SafeString(item["price"])
	row[models.ColPriceNumeric] = orEmpty(item["priceNumeric"])
	row[models.ColWasPriceDisplay] = SafeString(item["wasPrice"])
	row[models.ColWasPriceNumeric] = orEmpty(item["wasPriceNumeric"])
	row[models.ColPriceLabel] = SafeString(item["priceLabel"])
	row[models.ColPriceSource] = SafeString(item["priceSource"])
	row[models.ColPricePerUnit] = SafeString(item["pricePerUnit"])
	row[models.ColPrimaryImageURL] = ExtractPrimaryImageURL(item)
	row[models.ColScrapedAt] = models.Timestamp(scrapedAt)
	row[models.ColRunID] = runID
	row[models.ColBrandQuery] = brandQuery
	row[models.ColRawJSON] = marshalString(item)

	return row
}

func orEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}
