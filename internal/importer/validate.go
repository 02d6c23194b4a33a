package importer

import (
	"fmt"

	"github.com/carbonstep/carbonstep-server/internal/domain"
)

// maxPlausibleDistanceKm is the threshold above which a distance is flagged
// as unusually high. Warning only; the record still imports.
const maxPlausibleDistanceKm = 1000

// ValidateRecords checks the whole batch and returns the full ordered
// diagnostic list. The entire file is validated before any import decision;
// there is no record-by-record early exit. Purely diagnostic: nothing is
// mutated or persisted.
//
// A record with only warnings is still eligible for import. A record with
// any error is excluded and counted as an error record.
func ValidateRecords(records []RawRecord) []domain.Validation {
	var out []domain.Validation

	for i, rec := range records {
		line := i + 1

		// Transport type: absence is an error, an unknown value only a
		// warning. Unknown types are tolerated and default to car later.
		if _, raw, ok := ResolveType(rec); raw == "" {
			out = append(out, errorDiag(line, "Missing required field: type", nil))
		} else if !ok {
			out = append(out, warnDiag(line,
				fmt.Sprintf("Unknown activity type: %s", raw),
				map[string]any{"field": FieldType, "value": raw}))
		}

		if _, present := resolveRaw(rec, FieldDistance); !present {
			out = append(out, errorDiag(line, "Missing required field: distance", nil))
		} else if dist, ok := ResolveFloat(rec, FieldDistance); !ok {
			out = append(out, errorDiag(line, "Invalid distance value", rawContext(rec, FieldDistance)))
		} else if dist < 0 {
			out = append(out, errorDiag(line, "Distance cannot be negative", rawContext(rec, FieldDistance)))
		} else if dist > maxPlausibleDistanceKm {
			out = append(out, warnDiag(line,
				fmt.Sprintf("Unusually high distance: %g km", dist),
				rawContext(rec, FieldDistance)))
		}

		if _, present := resolveRaw(rec, FieldCO2); !present {
			out = append(out, errorDiag(line, "Missing required field: co2", nil))
		} else if co2, ok := ResolveFloat(rec, FieldCO2); !ok {
			out = append(out, errorDiag(line, "Invalid co2 value", rawContext(rec, FieldCO2)))
		} else if co2 < 0 {
			out = append(out, errorDiag(line, "CO2 emission cannot be negative", rawContext(rec, FieldCO2)))
		}

		if _, present := resolveRaw(rec, FieldDate); !present {
			out = append(out, errorDiag(line, "Missing required field: date", nil))
		} else if _, ok := ResolveTime(rec); !ok {
			out = append(out, errorDiag(line, "Invalid date format", rawContext(rec, FieldDate)))
		}
	}

	return out
}

func errorDiag(line int, msg string, ctx map[string]any) domain.Validation {
	return domain.Validation{
		Severity:   domain.SeverityError,
		Message:    msg,
		LineNumber: line,
		Context:    ctx,
	}
}

func warnDiag(line int, msg string, ctx map[string]any) domain.Validation {
	return domain.Validation{
		Severity:   domain.SeverityWarning,
		Message:    msg,
		LineNumber: line,
		Context:    ctx,
	}
}

func rawContext(rec RawRecord, field string) map[string]any {
	v, ok := resolveRaw(rec, field)
	if !ok {
		return map[string]any{"field": field}
	}
	return map[string]any{"field": field, "value": v}
}

// errorLines returns the set of line numbers carrying at least one
// error-level diagnostic. Records on these lines are excluded from import.
func errorLines(validations []domain.Validation) map[int]struct{} {
	lines := make(map[int]struct{})
	for _, v := range validations {
		if v.Severity == domain.SeverityError && v.LineNumber > 0 {
			lines[v.LineNumber] = struct{}{}
		}
	}
	return lines
}
