// Package migrate moves collection data in and out of shopsync: CSV,
// JSONL, JSON and YAML import into the local store, and JSON, JSONL and
// YAML export.
package migrate

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shopkeep/shopsync/internal/schema"
	"github.com/shopkeep/shopsync/internal/store"
)

// Format is an import or export file format.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("cannot detect format of %s (use csv, jsonl, json or yaml)", path)
	}
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	Collection string // Target collection
	Path       string // Input file path
	Format     Format // Detected from Path when empty
	DryRun     bool   // Validate without writing
	Overwrite  bool   // Replace records whose id already exists
}

// ImportResult contains statistics about the import
type ImportResult struct {
	Read    int
	Created int
	Updated int
	Skipped int
	Errors  []string
}

// Import reads opts.Path and writes its rows into the store. Rows that fail
// to parse or validate are reported in the result and do not stop the import.
func Import(ctx context.Context, st *store.Store, opts ImportOptions) (*ImportResult, error) {
	if opts.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if st.Tenant() == "" {
		return nil, store.ErrNoTenant
	}
	format := opts.Format
	if format == "" {
		f, err := DetectFormat(opts.Path)
		if err != nil {
			return nil, err
		}
		format = f
	}

	// #nosec G304 - controlled path from CLI
	file, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	var rows []json.RawMessage
	var rowErrs []string
	switch format {
	case FormatCSV:
		if opts.Collection == schema.Products {
			rows, rowErrs, err = ReadProductsCSV(file)
		} else {
			rows, rowErrs, err = ReadCSV(file)
		}
	case FormatJSONL:
		rows, err = ReadJSONL(file)
	case FormatJSON:
		rows, err = ReadJSON(file)
	case FormatYAML:
		rows, err = ReadYAML(file)
	default:
		return nil, fmt.Errorf("unsupported import format %q", format)
	}
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Read: len(rows) + len(rowErrs), Errors: rowErrs}
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := importRow(st, opts, row, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", i+1, err))
		}
	}
	return result, nil
}

func importRow(st *store.Store, opts ImportOptions, row json.RawMessage, result *ImportResult) error {
	id, err := schema.PayloadID(row)
	if err != nil {
		return err
	}

	exists := false
	if id != "" {
		_, err := st.Get(opts.Collection, id)
		switch {
		case err == nil:
			exists = true
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
	}

	if exists && !opts.Overwrite {
		result.Skipped++
		return nil
	}

	if opts.DryRun {
		rec := schema.Record{ID: id, Data: row}
		if rec.ID == "" {
			rec.ID = "new"
		}
		if err := rec.Validate(); err != nil {
			return err
		}
	} else if exists {
		if _, err := st.Put(opts.Collection, id, row); err != nil {
			return err
		}
	} else {
		if _, err := st.Create(opts.Collection, row); err != nil {
			return err
		}
	}

	if exists {
		result.Updated++
	} else {
		result.Created++
	}
	return nil
}

// ReadJSONL reads one JSON object per line.
func ReadJSONL(r io.Reader) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	decoder := json.NewDecoder(r)
	lineNum := 0

	for {
		var row json.RawMessage
		if err := decoder.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++
		rows = append(rows, row)
	}

	return rows, nil
}

// ReadJSON reads a JSON array of objects.
func ReadJSON(r io.Reader) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("invalid JSON array: %w", err)
	}
	return rows, nil
}

// ReadYAML reads a YAML sequence of mappings.
func ReadYAML(r io.Reader) ([]json.RawMessage, error) {
	var docs []map[string]interface{}
	if err := yaml.NewDecoder(r).Decode(&docs); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	rows := make([]json.RawMessage, 0, len(docs))
	for i, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("item %d cannot be converted to JSON: %w", i+1, err)
		}
		rows = append(rows, data)
	}
	return rows, nil
}

// ReadCSV maps each row to an object keyed by the header. Values stay strings.
func ReadCSV(r io.Reader) ([]json.RawMessage, []string, error) {
	header, records, err := readCSV(r)
	if err != nil {
		return nil, nil, err
	}

	var rows []json.RawMessage
	for _, rec := range records {
		obj := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) && rec[i] != "" {
				obj[col] = rec[i]
			}
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, data)
	}
	return rows, nil, nil
}

// ReadProductsCSV reads a product catalog. Recognized columns are id, name,
// sku, barcode, category, price, cost, stock and unit; others are ignored.
// Prices and costs are decimal amounts converted to minor units.
func ReadProductsCSV(r io.Reader) ([]json.RawMessage, []string, error) {
	header, records, err := readCSV(r)
	if err != nil {
		return nil, nil, err
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	if _, ok := col["name"]; !ok {
		return nil, nil, fmt.Errorf("CSV header must include a name column")
	}

	var rows []json.RawMessage
	var errs []string
	for n, rec := range records {
		line := n + 2 // header is line 1
		get := func(name string) string {
			if i, ok := col[name]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}

		p := schema.Product{
			ID:       get("id"),
			Name:     get("name"),
			SKU:      get("sku"),
			Barcode:  get("barcode"),
			Category: get("category"),
			Unit:     get("unit"),
		}
		if p.Price, err = ParseAmount(get("price")); err != nil {
			errs = append(errs, fmt.Sprintf("line %d: price: %v", line, err))
			continue
		}
		if p.Cost, err = ParseAmount(get("cost")); err != nil {
			errs = append(errs, fmt.Sprintf("line %d: cost: %v", line, err))
			continue
		}
		if s := get("stock"); s != "" {
			if p.Stock, err = strconv.Atoi(s); err != nil {
				errs = append(errs, fmt.Sprintf("line %d: stock: %v", line, err))
				continue
			}
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		data, err := json.Marshal(p)
		if err != nil {
			return nil, nil, err
		}
		if p.ID == "" {
			// Let the store generate the id
			var obj map[string]json.RawMessage
			_ = json.Unmarshal(data, &obj)
			delete(obj, "id")
			data, _ = json.Marshal(obj)
		}
		rows = append(rows, data)
	}
	return rows, errs, nil
}

func readCSV(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("CSV file is empty")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}
	return header, records[1:], nil
}

// ParseAmount converts a decimal amount such as "12.5" to minor units (1250).
// An empty string is zero.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("invalid amount %q: more than two decimals", s)
	}
	frac += strings.Repeat("0", 2-len(frac))
	if whole == "" {
		whole = "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	v := w*100 + f
	if neg {
		v = -v
	}
	return v, nil
}
