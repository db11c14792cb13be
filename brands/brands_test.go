package brands

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brands.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestLoadCSVDedupesCaseAndWhitespace(t *testing.T) {
	path := writeCSV(t, "brand,region\nAcme,AU\nacme ,AU\n  ACME,AU\nOld   Mate,AU\nold mate,AU\n")

	got, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// First occurrence's original casing is kept, first-seen order preserved.
	want := []string{"Acme", "Old   Mate"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("brands = %v, want %v", got, want)
	}
}

func TestLoadCSVColumnCandidates(t *testing.T) {
	path := writeCSV(t, "id,BrandName\n1,Acme\n2,Bundy\n")

	got, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"Acme", "Bundy"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("brands = %v, want %v", got, want)
	}
}

func TestLoadCSVFallsBackToFirstColumn(t *testing.T) {
	path := writeCSV(t, "label,count\nAcme,3\n,0\nBundy,1\n")

	got, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"Acme", "Bundy"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("brands = %v, want %v (blank values dropped)", got, want)
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	if _, err := LoadCSV(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
