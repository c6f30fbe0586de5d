package us

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCSVSymbols(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "test.csv")
	csv := "symbol,description,industry,exchange\ngoogl,Alphabet,Tech,NASDAQ\n AAPL ,Apple,Tech,NASDAQ\n,blank,,\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	symbols, err := LoadCSVSymbols(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(symbols) != 2 || symbols[0] != "GOOGL" || symbols[1] != "AAPL" {
		t.Errorf("LoadCSVSymbols() = %v, want [GOOGL AAPL]", symbols)
	}
}

func TestLoadCSVSymbolsHeaderOnly(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(csvPath, []byte("symbol\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	symbols, err := LoadCSVSymbols(csvPath)
	if err != nil || len(symbols) != 0 {
		t.Errorf("LoadCSVSymbols(header only) = %v, %v", symbols, err)
	}
}

func TestBackfillSymbols(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "extra.csv")
	if err := os.WriteFile(csvPath, []byte("symbol\nMSFT\nspy\nFOOBAR\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := BackfillSymbols(csvPath, "aapl", "SPY", "msft", "")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"AAPL", "FOOBAR", "MSFT", "SPY"}
	if len(got) != len(want) {
		t.Fatalf("BackfillSymbols() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("BackfillSymbols()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if _, err := BackfillSymbols(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("BackfillSymbols should fail on a missing CSV")
	}
}
