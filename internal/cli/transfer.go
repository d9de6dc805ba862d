package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/flagledger/internal/service"
	"github.com/TimurManjosov/flagledger/internal/store"
)

// ExportFormat is the file layout written by export and read by import.
type ExportFormat struct {
	Flags []store.Flag `json:"flags"`
}

// WriteExport writes flags as JSON or YAML. Table output is not meaningful for a
// backup file, so FormatTable falls back to YAML.
func WriteExport(w io.Writer, flags []store.Flag, format OutputFormat) error {
	data := ExportFormat{Flags: flags}
	switch format {
	case FormatJSON:
		return printJSON(w, data)
	case FormatYAML, FormatTable, "":
		return printYAML(w, data)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// ReadImport parses an export file. YAML is a superset of JSON, so both go through
// the YAML decoder and are then mapped onto the API's JSON field names.
func ReadImport(data []byte) ([]service.FlagInput, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse file: %w", err)
	}
	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file: %w", err)
	}

	var file struct {
		Flags []service.FlagInput `json:"flags"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	if len(file.Flags) == 0 {
		return nil, errors.New("no flags found in file")
	}
	for i, f := range file.Flags {
		if f.Key == "" {
			return nil, fmt.Errorf("flag #%d has no key", i+1)
		}
	}
	return file.Flags, nil
}
