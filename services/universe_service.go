package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"stockscreener/types"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Vendor equity-list rows as published by the exchanges.
type nseListRow struct {
	Symbol string `csv:"SYMBOL"`
	ISIN   string `csv:"ISIN NUMBER"`
}

type bseListRow struct {
	Symbol string `csv:"TckrSymb"`
	ISIN   string `csv:"ISIN"`
}

// LoadUniverse reads the ticker universe table. Rows without a symbol are
// dropped; symbols are de-duplicated keeping the first occurrence.
func LoadUniverse(path string) ([]types.Ticker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows := []types.Ticker{}
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse universe table %s: %w", path, err)
	}

	seen := make(map[string]bool)
	universe := make([]types.Ticker, 0, len(rows))
	for _, t := range rows {
		t.Symbol = strings.TrimSpace(t.Symbol)
		if t.Symbol == "" || seen[t.Symbol] {
			continue
		}
		seen[t.Symbol] = true
		universe = append(universe, t)
	}
	return universe, nil
}

// SaveUniverse writes the universe table, sorted by symbol.
func SaveUniverse(path string, universe []types.Ticker) error {
	sorted := make([]types.Ticker, len(universe))
	copy(sorted, universe)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.MarshalFile(sorted, f)
}

// BuildUniverse merges the vendor-published NSE and BSE equity lists into
// the exchange-qualified universe. Listings are de-duplicated by ISIN with
// the NSE listing preferred; symbols get the .NS/.BO suffix the rest of the
// pipeline keys on.
func BuildUniverse(nsePath, bsePath string) ([]types.Ticker, error) {
	universe := []types.Ticker{}
	seenISIN := make(map[string]bool)

	nseRows, err := readEquityList(nsePath, "SYMBOL", "ISIN NUMBER")
	if err != nil {
		return nil, fmt.Errorf("failed to read NSE equity list: %w", err)
	}
	for _, row := range nseRows {
		if row.Symbol == "" || (row.ISIN != "" && seenISIN[row.ISIN]) {
			continue
		}
		if row.ISIN != "" {
			seenISIN[row.ISIN] = true
		}
		universe = append(universe, types.Ticker{Symbol: row.Symbol + ".NS", Exchange: "NSE"})
	}

	bseRows, err := readEquityList(bsePath, "TckrSymb", "ISIN")
	if err != nil {
		return nil, fmt.Errorf("failed to read BSE equity list: %w", err)
	}
	for _, row := range bseRows {
		if row.Symbol == "" || (row.ISIN != "" && seenISIN[row.ISIN]) {
			continue
		}
		if row.ISIN != "" {
			seenISIN[row.ISIN] = true
		}
		universe = append(universe, types.Ticker{Symbol: row.Symbol + ".BO", Exchange: "BSE"})
	}

	zap.L().Info("Universe built from vendor lists",
		zap.Int("nse", len(nseRows)),
		zap.Int("bse", len(bseRows)),
		zap.Int("universe", len(universe)))
	return universe, nil
}

type equityListRow struct {
	Symbol string
	ISIN   string
}

// readEquityList reads a vendor equity list in whichever format the exchange
// published it, CSV or XLSX.
func readEquityList(path, symbolHeader, isinHeader string) ([]equityListRow, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readEquityListXLSX(path, symbolHeader, isinHeader)
	default:
		return readEquityListCSV(path, symbolHeader, isinHeader)
	}
}

func readEquityListCSV(path, symbolHeader, isinHeader string) ([]equityListRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch symbolHeader {
	case "SYMBOL":
		rows := []nseListRow{}
		if err := gocsv.UnmarshalFile(f, &rows); err != nil {
			return nil, err
		}
		out := make([]equityListRow, len(rows))
		for i, r := range rows {
			out[i] = equityListRow{Symbol: strings.TrimSpace(r.Symbol), ISIN: strings.TrimSpace(r.ISIN)}
		}
		return out, nil
	default:
		rows := []bseListRow{}
		if err := gocsv.UnmarshalFile(f, &rows); err != nil {
			return nil, err
		}
		out := make([]equityListRow, len(rows))
		for i, r := range rows {
			out[i] = equityListRow{Symbol: strings.TrimSpace(r.Symbol), ISIN: strings.TrimSpace(r.ISIN)}
		}
		return out, nil
	}
}

func readEquityListXLSX(path, symbolHeader, isinHeader string) ([]equityListRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheetList := f.GetSheetList()
	if len(sheetList) == 0 {
		return nil, fmt.Errorf("no sheets in %s", path)
	}
	rows, err := f.GetRows(sheetList[0])
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	symbolIdx, isinIdx := -1, -1
	for i, cell := range rows[0] {
		switch strings.TrimSpace(cell) {
		case symbolHeader:
			symbolIdx = i
		case isinHeader:
			isinIdx = i
		}
	}
	if symbolIdx < 0 {
		return nil, fmt.Errorf("column %q not found in %s", symbolHeader, path)
	}

	out := []equityListRow{}
	for _, row := range rows[1:] {
		r := equityListRow{}
		if symbolIdx < len(row) {
			r.Symbol = strings.TrimSpace(row[symbolIdx])
		}
		if isinIdx >= 0 && isinIdx < len(row) {
			r.ISIN = strings.TrimSpace(row[isinIdx])
		}
		if r.Symbol != "" {
			out = append(out, r)
		}
	}
	return out, nil
}
