package integrity

import (
	"encoding/json"
	"fmt"

	"cloud.google.com/go/civil"
)

var requiredRecordFields = []string{"type", "amount", "currency", "category", "description", "date"}

// ValidateRecords checks decoded JSON transaction records for missing fields
// and wrong JSON types before they are converted into transactions. Records
// are expected to be decoded with json.Decoder.UseNumber or plain
// json.Unmarshal; both numeric representations are accepted.
func ValidateRecords(records []map[string]any) []string {
	var issues []string
	for i, rec := range records {
		for _, field := range requiredRecordFields {
			v, ok := rec[field]
			if !ok || v == nil {
				issues = append(issues, fmt.Sprintf("record %d: missing %s", i, field))
				continue
			}
			if msg := checkRecordType(field, v); msg != "" {
				issues = append(issues, fmt.Sprintf("record %d: %s", i, msg))
			}
		}
		if id, ok := rec["id"]; ok && id != nil {
			if _, isString := id.(string); !isString {
				issues = append(issues, fmt.Sprintf("record %d: id must be a string", i))
			}
		}
	}
	return issues
}

func checkRecordType(field string, v any) string {
	switch field {
	case "amount":
		switch n := v.(type) {
		case float64:
			return ""
		case json.Number:
			if _, err := n.Float64(); err != nil {
				return fmt.Sprintf("amount %q is not numeric", n)
			}
			return ""
		default:
			return fmt.Sprintf("amount must be a number, got %T", v)
		}
	case "date":
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("date must be a string, got %T", v)
		}
		d, err := civil.ParseDate(s)
		if err != nil {
			return fmt.Sprintf("date %q does not parse", s)
		}
		if d.Year < minYear || d.Year > maxYear {
			return fmt.Sprintf("date %q outside %d-%d", s, minYear, maxYear)
		}
		return ""
	default:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("%s must be a string, got %T", field, v)
		}
		return ""
	}
}
