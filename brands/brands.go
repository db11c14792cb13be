// Package brands loads the brand query list from a CSV file.
package brands

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/retailsnap/go-scrape-iga/parser"
)

// columnCandidates are tried in order against the header row; the first
// match wins. When none match, the first column is used.
var columnCandidates = []string{"brand", "Brands", "BrandName", "brand_name", "name"}

// LoadCSV reads brand names from the CSV at path. Blank values are dropped,
// and names are deduplicated by normalized key with the first occurrence's
// original casing kept, in first-seen order.
func LoadCSV(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open brands csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read brands csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("brands csv %q is empty", path)
	}

	col := 0
	header := rows[0]
	for _, candidate := range columnCandidates {
		if idx := indexOf(header, candidate); idx >= 0 {
			col = idx
			break
		}
	}

	seen := make(map[string]struct{})
	out := make([]string, 0, len(rows)-1)
	for _, record := range rows[1:] {
		if col >= len(record) {
			continue
		}
		brand := strings.TrimSpace(record[col])
		if brand == "" {
			continue
		}
		key := parser.NormalizeBrandKey(brand)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, brand)
	}
	return out, nil
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}
