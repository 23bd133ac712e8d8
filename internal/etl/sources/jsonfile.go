package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"catalogsync/internal/etl"
)

// ── JSON File Source ────────────────────────────────────────
// Reads a catalog from a local JSON file. The products array sits either
// at the root or under a dot-separated dataPath (e.g. "products").

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "json_file",
		Label: "JSON File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Required: true, Help: "Path to the JSON file"},
			{Key: "dataPath", Label: "Data Path", Required: false, Help: "Dot-separated path to the array (e.g., 'products'). Leave empty if root is an array."},
		},
	}
}

func (s *jsonFileSource) Load(ctx context.Context, cfg etl.SourceConfig) ([]etl.Record, error) {
	filePath, _ := cfg["filePath"].(string)
	if filePath == "" {
		return nil, &etl.SourceError{Source: "json_file", Kind: etl.ErrSourceNotFound, Err: errors.New("filePath is required")}
	}
	fail := func(kind error, err error) error {
		return &etl.SourceError{Source: filePath, Kind: kind, Err: err}
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fail(etl.ErrSourceNotFound, err)
	}

	var current json.RawMessage
	if err := json.Unmarshal(data, &current); err != nil {
		return nil, fail(etl.ErrSourceMalformed, fmt.Errorf("parse json: %w", err))
	}

	// Navigate to dataPath if specified.
	if dataPath, _ := cfg["dataPath"].(string); dataPath != "" {
		for _, part := range strings.Split(dataPath, ".") {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(current, &obj); err != nil {
				return nil, fail(etl.ErrSourceMalformed, fmt.Errorf("invalid data path: %q is not inside an object", part))
			}
			next, ok := obj[part]
			if !ok {
				return nil, fail(etl.ErrSourceEmpty, fmt.Errorf("%q not found", dataPath))
			}
			current = next
		}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(current, &items); err != nil {
		return nil, fail(etl.ErrSourceMalformed, fmt.Errorf("products are not an array: %w", err))
	}
	if len(items) == 0 {
		return nil, fail(etl.ErrSourceEmpty, nil)
	}

	records := make([]etl.Record, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !bytes.HasPrefix(bytes.TrimSpace(item), []byte("{")) {
			return nil, fail(etl.ErrSourceMalformed, fmt.Errorf("product %d is not an object", i))
		}
		var rec etl.Record
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, fail(etl.ErrSourceMalformed, fmt.Errorf("product %d: %w", i, err))
		}
		records = append(records, rec)
	}
	return records, nil
}
