package importer

import (
	"bytes"
	"encoding/csv"
	"encoding/json/v2"
	"strings"

	"github.com/carbonstep/carbonstep-server/internal/domain"
	"github.com/carbonstep/carbonstep-server/internal/errors"
)

// RawRecord is one loosely-typed record produced by parsing. Keys vary by
// source format and field-name variant; values are strings, numbers, or nil.
// Transient; discarded after conversion.
type RawRecord map[string]any

// ParseRecords turns raw file content into an ordered list of records for the
// declared format. Pure transform: a malformed file fails the whole parse,
// never a partial record list.
func ParseRecords(content []byte, format domain.ImportFormat) ([]RawRecord, error) {
	switch format {
	case domain.FormatJSON, domain.FormatCarbonTracker:
		// The native export is a JSON envelope; parsed identically for now.
		return parseJSON(content)
	case domain.FormatCSV:
		return parseCSV(content)
	default:
		return nil, errors.Parsef("unsupported import format: %s", format)
	}
}

// parseJSON accepts either a top-level array of objects or an object with an
// "activities" array (the native export envelope). Any other shape fails.
func parseJSON(content []byte) ([]RawRecord, error) {
	var doc any
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, errors.Wrap(err, errors.CodeParse, "invalid JSON")
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		arr, ok := v["activities"].([]any)
		if !ok {
			return nil, errors.Parse("JSON object does not contain an activities array")
		}
		items = arr
	default:
		return nil, errors.Parse("JSON must be an array of records or an activities envelope")
	}

	records := make([]RawRecord, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, errors.Parsef("record %d is not an object", i+1)
		}
		records = append(records, RawRecord(obj))
	}
	return records, nil
}

// parseCSV treats the first row as the header. Header cells are lower-cased
// and become record keys; short rows only populate the cells present.
func parseCSV(content []byte) ([]RawRecord, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1 // rows may be shorter than the header
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeParse, "invalid CSV")
	}
	if len(rows) == 0 {
		return nil, errors.Parse("CSV has no header row")
	}

	header := rows[0]
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	records := make([]RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(RawRecord, len(header))
		for i, cell := range row {
			if i >= len(header) {
				break
			}
			rec[header[i]] = cell
		}
		records = append(records, rec)
	}
	return records, nil
}
