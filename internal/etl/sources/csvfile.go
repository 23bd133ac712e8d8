package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"

	"catalogsync/internal/etl"
)

// ── CSV File Source ─────────────────────────────────────────
// Reads a catalog from a local CSV export. The first row names the
// fields; cells are kept as text so the mapper decides their final type.

type csvFileSource struct{}

func init() { etl.RegisterSource(&csvFileSource{}) }

func (s *csvFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "csv_file",
		Label: "CSV File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Required: true, Help: "Path to the CSV file"},
			{Key: "delimiter", Label: "Delimiter", Required: false, Default: ",", Help: "Column delimiter (default: comma)"},
		},
	}
}

func (s *csvFileSource) Load(ctx context.Context, cfg etl.SourceConfig) ([]etl.Record, error) {
	filePath, _ := cfg["filePath"].(string)
	if filePath == "" {
		return nil, &etl.SourceError{Source: "csv_file", Kind: etl.ErrSourceNotFound, Err: errors.New("filePath is required")}
	}
	fail := func(kind error, err error) error {
		return &etl.SourceError{Source: filePath, Kind: kind, Err: err}
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fail(etl.ErrSourceNotFound, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)

	// Configure delimiter.
	if delim, ok := cfg["delimiter"].(string); ok && len(delim) > 0 {
		reader.Comma = rune(delim[0])
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fail(etl.ErrSourceMalformed, fmt.Errorf("parse csv: %w", err))
	}
	if len(rows) < 2 {
		return nil, fail(etl.ErrSourceEmpty, nil)
	}

	headers := rows[0]
	records := make([]etl.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := etl.NewRecord()
		for j, h := range headers {
			if j < len(row) {
				rec.Set(h, csvValue(row[j]))
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// csvValue keeps cells as text; an empty cell is a null.
func csvValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
