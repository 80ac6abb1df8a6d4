package graphstore

import (
	"fmt"
	"strings"
)

// FormatValue formats a single value for display to a model. Floats are
// rounded to 2 decimal places so long decimals (3.3333333333333335) don't
// read like encoded values; long strings are truncated.
func FormatValue(v any) string {
	switch val := v.(type) {
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case float32:
		if val == float32(int32(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case nil:
		return ""
	default:
		s := fmt.Sprintf("%v", v)
		if len(s) > 100 {
			s = s[:97] + "..."
		}
		return s
	}
}

// FormatRows renders a result as pipe-separated lines suitable for a
// synthesis prompt, capped at maxRows with a trailing count marker.
func FormatRows(result Result, maxRows int) string {
	if result.Count == 0 {
		return "Query returned no results."
	}
	if maxRows <= 0 {
		maxRows = 50
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Columns: %s\n", strings.Join(result.Columns, ", ")))
	sb.WriteString(fmt.Sprintf("Rows (%d total):\n", result.Count))

	display := min(maxRows, result.Count)
	for i := 0; i < display && i < len(result.Rows); i++ {
		values := make([]string, len(result.Columns))
		for j, col := range result.Columns {
			values[j] = FormatValue(result.Rows[i][col])
		}
		sb.WriteString(strings.Join(values, " | ") + "\n")
	}

	if result.Count > maxRows {
		sb.WriteString(fmt.Sprintf("... and %d more rows\n", result.Count-maxRows))
	}

	return sb.String()
}
