package migrate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/shopkeep/shopsync/internal/schema"
)

// Export writes record payloads to w. The output can be imported again.
func Export(w io.Writer, recs []schema.Record, format Format) error {
	switch format {
	case FormatJSON:
		payloads := make([]json.RawMessage, 0, len(recs))
		for _, rec := range recs {
			payloads = append(payloads, rec.Data)
		}
		data, err := json.MarshalIndent(payloads, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal records: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		return nil

	case FormatJSONL:
		bw := bufio.NewWriter(w)
		for _, rec := range recs {
			line, err := compactJSON(rec.Data)
			if err != nil {
				return fmt.Errorf("record %s: %w", rec.ID, err)
			}
			if _, err := bw.Write(append(line, '\n')); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
		}
		return bw.Flush()

	case FormatYAML:
		docs := make([]interface{}, 0, len(recs))
		for _, rec := range recs {
			var doc interface{}
			if err := json.Unmarshal(rec.Data, &doc); err != nil {
				return fmt.Errorf("record %s: %w", rec.ID, err)
			}
			docs = append(docs, doc)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(docs); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()

	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// ExportFile writes the export to path atomically via a temp file.
func ExportFile(path string, recs []schema.Record, format Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if err := Export(f, recs, format); err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func compactJSON(raw json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
