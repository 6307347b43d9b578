package linestore

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/bubbletalk/pkg/dialogue"
)

// Format is a line file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// csvColumns is the column order of line CSV files.
var csvColumns = []string{"speaker", "id", "condition", "text", "duration", "next_id", "note"}

// ErrUnknownFormat is returned for file extensions without a decoder.
var ErrUnknownFormat = errors.New("linestore: unknown file format")

// FormatFromPath picks the format from path's extension. JSONC files use
// [FormatJSON]; comments and trailing commas are accepted on decode.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// document is the structured file layout: a top-level "lines" list.
type document struct {
	Lines []dialogue.Line `yaml:"lines" json:"lines"`
}

// Decode parses lines from data. Structured formats accept either a
// top-level list or a {"lines": [...]} document.
func Decode(data []byte, format Format) ([]dialogue.Line, error) {
	switch format {
	case FormatYAML:
		return decodeYAML(data)
	case FormatJSON:
		return decodeJSON(data)
	case FormatCSV:
		return ParseCSV(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func decodeYAML(data []byte) ([]dialogue.Line, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("linestore: parse yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	var lines []dialogue.Line
	var err error
	if root.Content[0].Kind == yaml.SequenceNode {
		err = root.Content[0].Decode(&lines)
	} else {
		var doc document
		err = root.Content[0].Decode(&doc)
		lines = doc.Lines
	}
	if err != nil {
		return nil, fmt.Errorf("linestore: decode yaml: %w", err)
	}
	return lines, nil
}

func decodeJSON(data []byte) ([]dialogue.Line, error) {
	clean := bytes.TrimSpace(jsonc.ToJSON(data))
	if len(clean) == 0 {
		return nil, nil
	}
	if clean[0] == '[' {
		var lines []dialogue.Line
		if err := json.Unmarshal(clean, &lines); err != nil {
			return nil, fmt.Errorf("linestore: decode json: %w", err)
		}
		return lines, nil
	}
	var doc document
	if err := json.Unmarshal(clean, &doc); err != nil {
		return nil, fmt.Errorf("linestore: decode json: %w", err)
	}
	return doc.Lines, nil
}

// ParseCSV reads the seven-column line format
// (speaker,id,condition,text,duration,next_id,note). The first row is a
// header and is skipped. Blank rows are ignored and every field is trimmed.
// Quoted fields may contain commas.
func ParseCSV(r io.Reader) ([]dialogue.Line, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var lines []dialogue.Line
	header := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("linestore: read csv: %w", err)
		}
		if header {
			header = false
			continue
		}
		if isBlank(rec) {
			continue
		}
		if len(rec) < len(csvColumns) {
			row, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("linestore: csv row %d: want %d columns, got %d", row, len(csvColumns), len(rec))
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		lines = append(lines, dialogue.Line{
			Speaker:   rec[0],
			ID:        rec[1],
			Condition: dialogue.Condition(rec[2]),
			Text:      rec[3],
			Duration:  rec[4],
			NextID:    rec[5],
			Note:      rec[6],
		})
	}
	return lines, nil
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Encode writes lines to w in format. Structured formats use the
// {"lines": [...]} document layout.
func Encode(w io.Writer, format Format, lines []dialogue.Line) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(document{Lines: lines}); err != nil {
			return fmt.Errorf("linestore: encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(document{Lines: lines}); err != nil {
			return fmt.Errorf("linestore: encode json: %w", err)
		}
		return nil
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvColumns); err != nil {
			return fmt.Errorf("linestore: encode csv: %w", err)
		}
		for _, l := range lines {
			if err := cw.Write([]string{l.Speaker, l.ID, string(l.Condition), l.Text, l.Duration, l.NextID, l.Note}); err != nil {
				return fmt.Errorf("linestore: encode csv: %w", err)
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
