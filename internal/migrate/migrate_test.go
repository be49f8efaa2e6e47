package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopkeep/shopsync/internal/persist"
	"github.com/shopkeep/shopsync/internal/schema"
	"github.com/shopkeep/shopsync/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(persist.NewMemory(), schema.DefaultCollections(), store.Config{
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SwitchTenant(context.Background(), "biz1"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"catalog.csv", FormatCSV, false},
		{"orders.jsonl", FormatJSONL, false},
		{"orders.NDJSON", FormatJSONL, false},
		{"all.json", FormatJSON, false},
		{"all.yml", FormatYAML, false},
		{"all.yaml", FormatYAML, false},
		{"notes.txt", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := DetectFormat(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DetectFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DetectFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"12", 1200, false},
		{"12.5", 1250, false},
		{"12.05", 1205, false},
		{".99", 99, false},
		{"-3.10", -310, false},
		{"1.234", 0, true},
		{"abc", 0, true},
		{"--1", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAmount(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestReadProductsCSV(t *testing.T) {
	input := "\ufeffID,Name,SKU,Price,Cost,Stock,Category,Barcode,Supplier\n" +
		"p1,Soap,SOAP-1,2.50,1.10,40,Bath,4006381333931,Acme\n" +
		",Shampoo,,4,,,Bath,,\n" +
		"p3,,,1,,,,,\n" +
		"p4,Towel,,x,,,,,\n"

	rows, errs, err := ReadProductsCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadProductsCSV failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if len(errs) != 2 {
		t.Errorf("errors = %v, want 2 (missing name, bad price)", errs)
	}

	var soap schema.Product
	if err := json.Unmarshal(rows[0], &soap); err != nil {
		t.Fatal(err)
	}
	if soap.ID != "p1" || soap.Price != 250 || soap.Cost != 110 || soap.Stock != 40 || soap.Barcode != "4006381333931" {
		t.Errorf("soap = %+v", soap)
	}

	id, err := schema.PayloadID(rows[1])
	if err != nil || id != "" {
		t.Errorf("row without id kept id %q (%v)", id, err)
	}
}

func TestReadProductsCSVRequiresName(t *testing.T) {
	if _, _, err := ReadProductsCSV(strings.NewReader("id,price\np1,1\n")); err == nil {
		t.Error("expected error for header without name")
	}
	if _, _, err := ReadProductsCSV(strings.NewReader("")); err == nil {
		t.Error("expected error for empty file")
	}
}

func TestImportCSV(t *testing.T) {
	st := newStore(t)
	if _, err := st.Put(schema.Products, "p1", json.RawMessage(`{"name":"Old soap"}`)); err != nil {
		t.Fatal(err)
	}

	path := writeFile(t, "catalog.csv", "id,name,price\np1,Soap,2.50\np2,Towel,9\n,Sponge,1\n")

	result, err := Import(context.Background(), st, ImportOptions{Collection: schema.Products, Path: path})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Read != 3 || result.Created != 2 || result.Skipped != 1 || len(result.Errors) != 0 {
		t.Errorf("result = %+v, want 3 read, 2 created, 1 skipped", result)
	}

	p1, _ := st.Get(schema.Products, "p1")
	if !strings.Contains(string(p1.Data), "Old soap") {
		t.Errorf("existing product overwritten without Overwrite: %s", p1.Data)
	}

	result, err = Import(context.Background(), st, ImportOptions{
		Collection: schema.Products, Path: path, Overwrite: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Updated != 2 || result.Created != 1 {
		t.Errorf("overwrite result = %+v, want 2 updated, 1 created", result)
	}
	p1, _ = st.Get(schema.Products, "p1")
	if !strings.Contains(string(p1.Data), `"Soap"`) {
		t.Errorf("p1 not replaced: %s", p1.Data)
	}
}

func TestImportDryRun(t *testing.T) {
	st := newStore(t)
	path := writeFile(t, "orders.jsonl", `{"id":"o1","status":"paid"}
{"id":"o2","status":"pending"}
`)

	result, err := Import(context.Background(), st, ImportOptions{
		Collection: schema.Orders, Path: path, DryRun: true,
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Created != 2 {
		t.Errorf("dry run created = %d, want 2", result.Created)
	}

	recs, _ := st.List(schema.Orders)
	if len(recs) != 0 {
		t.Errorf("dry run wrote %d records", len(recs))
	}
}

func TestImportJSONAndYAML(t *testing.T) {
	st := newStore(t)

	jsonPath := writeFile(t, "customers.json", `[{"id":"c1","name":"Ada"},{"id":"c2","name":"Grace"}]`)
	if _, err := Import(context.Background(), st, ImportOptions{Collection: schema.Customers, Path: jsonPath}); err != nil {
		t.Fatalf("JSON import failed: %v", err)
	}

	yamlPath := writeFile(t, "expenses.yaml", "- id: e1\n  amount: 1200\n  category: rent\n- id: e2\n  amount: 300\n")
	result, err := Import(context.Background(), st, ImportOptions{Collection: schema.Expenses, Path: yamlPath})
	if err != nil {
		t.Fatalf("YAML import failed: %v", err)
	}
	if result.Created != 2 {
		t.Errorf("YAML created = %d, want 2", result.Created)
	}

	customers, _ := st.List(schema.Customers)
	if len(customers) != 2 {
		t.Errorf("customers = %d, want 2", len(customers))
	}
	e1, err := st.Get(schema.Expenses, "e1")
	if err != nil {
		t.Fatal(err)
	}
	var exp map[string]interface{}
	_ = json.Unmarshal(e1.Data, &exp)
	if exp["amount"] != float64(1200) {
		t.Errorf("e1 amount = %v, want 1200", exp["amount"])
	}
}

func TestImportInvalidJSONL(t *testing.T) {
	st := newStore(t)
	path := writeFile(t, "bad.jsonl", "{\"id\":\"o1\"}\n{not json}\n")

	if _, err := Import(context.Background(), st, ImportOptions{Collection: schema.Orders, Path: path}); err == nil {
		t.Error("expected error for invalid JSONL")
	}
}

func TestImportRequiresTenant(t *testing.T) {
	st, err := store.New(nil, schema.DefaultCollections(), store.Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, "orders.jsonl", `{"id":"o1"}`)

	_, err = Import(context.Background(), st, ImportOptions{Collection: schema.Orders, Path: path})
	if !errors.Is(err, store.ErrNoTenant) {
		t.Errorf("Import signed out = %v, want ErrNoTenant", err)
	}
}

func TestExportRoundTrip(t *testing.T) {
	recs := []schema.Record{
		{ID: "p1", Data: json.RawMessage(`{"id":"p1", "name":"Soap", "price":250}`)},
		{ID: "p2", Data: json.RawMessage(`{"id":"p2","name":"Towel","price":900}`)},
	}

	for _, format := range []Format{FormatJSON, FormatJSONL, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := Export(&buf, recs, format); err != nil {
				t.Fatalf("Export failed: %v", err)
			}

			var rows []json.RawMessage
			var err error
			switch format {
			case FormatJSON:
				rows, err = ReadJSON(&buf)
			case FormatJSONL:
				rows, err = ReadJSONL(&buf)
			case FormatYAML:
				rows, err = ReadYAML(&buf)
			}
			if err != nil {
				t.Fatalf("reading export failed: %v", err)
			}
			if len(rows) != len(recs) {
				t.Fatalf("rows = %d, want %d", len(rows), len(recs))
			}
			for i, row := range rows {
				if !recs[i].SameData(schema.Record{Data: row}) {
					t.Errorf("row %d = %s, want %s", i, row, recs[i].Data)
				}
			}
		})
	}
}

func TestExportJSONLIsOneLinePerRecord(t *testing.T) {
	recs := []schema.Record{{ID: "a", Data: json.RawMessage("{\n  \"id\": \"a\"\n}")}}

	var buf bytes.Buffer
	if err := Export(&buf, recs, FormatJSONL); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "{\"id\":\"a\"}\n" {
		t.Errorf("JSONL export = %q", got)
	}
}

func TestExportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "products.json")
	recs := []schema.Record{{ID: "p1", Data: json.RawMessage(`{"id":"p1"}`)}}

	if err := ExportFile(path, recs, FormatJSON); err != nil {
		t.Fatalf("ExportFile failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
	if err := ExportFile(path, recs, Format("xml")); err == nil {
		t.Error("expected error for unsupported format")
	}
}
