package us

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// LoadSymbolFile reads a symbol list. A ".csv" file must have a header row
// and carries the symbol in its first column; any other file holds one
// symbol per line, with blank lines and "#" comments ignored.
func LoadSymbolFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening symbol file %s: %w", path, err)
	}
	defer f.Close()

	var raw []string
	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		records, err := csv.NewReader(f).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("reading CSV %s: %w", path, err)
		}
		for i, row := range records {
			if i == 0 || len(row) == 0 {
				continue
			}
			raw = append(raw, row[0])
		}
	} else {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			raw = append(raw, line)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return NormalizeSymbols(raw), nil
}

// NormalizeSymbols upper-cases, trims and de-duplicates symbols, keeping the
// first occurrence order.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
