package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/retailsnap/go-scrape-iga/models"
)

// coreColumnOrder pins the fixed metadata columns to the front of the
// snapshot in a stable order; flattened item keys follow, sorted.
var coreColumnOrder = []string{
	models.ColRetailer,
	models.ColStoreID,
	models.ColSKU,
	models.ColName,
	models.ColBrandName,
	models.ColBarcode,
	models.ColAvailable,
	models.ColSellBy,
	models.ColPriceDisplay,
	models.ColPriceNumeric,
	models.ColWasPriceDisplay,
	models.ColWasPriceNumeric,
	models.ColPriceLabel,
	models.ColPriceSource,
	models.ColPricePerUnit,
	models.ColPrimaryImageURL,
	models.ColScrapedAt,
	models.ColRunID,
	models.ColBrandQuery,
	models.ColRawJSON,
}

// BuildSnapshot rebuilds the wide CSV at csvPath from the JSONL file at
// jsonlPath. It reads the file rather than any in-memory row list, so a
// resumed or interrupted run still produces a complete snapshot of what is
// on disk. Columns are the union of row keys with standardized names;
// missing cells are left empty. The CSV is replaced atomically. Returns the
// row and column counts.
func BuildSnapshot(jsonlPath, csvPath string, standardize func([]string) []string) (int, int, error) {
	var rows []models.Row
	keySet := make(map[string]struct{})

	err := ReadRows(jsonlPath, func(row models.Row) {
		rows = append(rows, row)
		for key := range row {
			keySet[key] = struct{}{}
		}
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, 0, fmt.Errorf("read rows: %w", err)
	}

	keys := orderKeys(keySet)
	header := standardize(keys)

	tmp := csvPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, 0, fmt.Errorf("create snapshot csv: %w", err)
	}
	fail := func(step string, err error) (int, int, error) {
		f.Close()
		os.Remove(tmp)
		return 0, 0, fmt.Errorf("%s: %w", step, err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(header); err != nil {
		return fail("write csv header", err)
	}

	record := make([]string, len(keys))
	for _, row := range rows {
		for i, key := range keys {
			value, ok := row[key]
			if !ok {
				record[i] = ""
				continue
			}
			record[i] = formatCell(value)
		}
		if err := writer.Write(record); err != nil {
			return fail("write csv record", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fail("flush csv", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, 0, fmt.Errorf("close csv: %w", err)
	}
	if err := os.Rename(tmp, csvPath); err != nil {
		os.Remove(tmp)
		return 0, 0, fmt.Errorf("replace csv: %w", err)
	}

	return len(rows), len(header), nil
}

func orderKeys(keySet map[string]struct{}) []string {
	keys := make([]string, 0, len(keySet))
	for _, core := range coreColumnOrder {
		if _, ok := keySet[core]; ok {
			keys = append(keys, core)
			delete(keySet, core)
		}
	}

	rest := make([]string, 0, len(keySet))
	for key := range keySet {
		rest = append(rest, key)
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func formatCell(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(b)
	}
}
