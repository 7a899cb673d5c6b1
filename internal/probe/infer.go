// Package probe infers column kinds from raw CSV cells.
//
// Inference is best-effort and never fails: a column that cannot be typed more
// specifically is a string column.
package probe

import (
	"strconv"
	"strings"

	"calibprep/internal/table"
)

// InferKinds infers one kind per column from the raw records.
//
// Preference order, most specific first:
//   - number: every non-empty cell parses as a float (ints included)
//   - bool:   every non-empty cell is a true/false literal
//   - string: everything else, and columns without any non-empty cell
//
// "0"/"1" columns are numbers, not bools; bool inference only accepts word
// literals so that counts are never mistaken for flags.
func InferKinds(width int, rows [][]string) []table.Kind {
	out := make([]table.Kind, width)
	for col := 0; col < width; col++ {
		var seen bool
		allNum := true
		allBool := true

		for _, r := range rows {
			if col >= len(r) {
				continue
			}
			v := strings.TrimSpace(r[col])
			if v == "" {
				continue
			}
			seen = true

			if allNum {
				if _, err := strconv.ParseFloat(v, 64); err != nil {
					allNum = false
				}
			}
			if allBool {
				if !isBoolWord(v) {
					allBool = false
				}
			}
			if !allNum && !allBool {
				break
			}
		}

		switch {
		case !seen:
			out[col] = table.KindString
		case allNum:
			out[col] = table.KindNumber
		case allBool:
			out[col] = table.KindBool
		default:
			out[col] = table.KindString
		}
	}
	return out
}

// isBoolWord accepts only true/false spellings. Yes/No flags in the exports
// are categorical text and stay strings unless a sidecar declares boolean.
func isBoolWord(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false":
		return true
	}
	return false
}

// ParseBoolLoose parses permissive boolean spellings. The second result is
// false when s is not recognized.
func ParseBoolLoose(s string) (bool, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "1", "t", "true", "yes", "y":
		return true, true
	case "0", "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

// Truthy interprets a cell as a flag. Numbers are true when non-zero, strings
// go through ParseBoolLoose. The second result is false for missing or
// unrecognized cells.
func Truthy(v table.Value) (bool, bool) {
	if v.Null {
		return false, false
	}
	switch v.Kind {
	case table.KindBool:
		return v.Bool, true
	case table.KindNumber:
		return v.Num != 0, true
	default:
		return ParseBoolLoose(v.Str)
	}
}

// ParseCell converts a raw cell to a value of kind k. Empty cells are missing.
func ParseCell(raw string, k table.Kind) (table.Value, bool) {
	if raw == "" {
		return table.Null(k), true
	}
	switch k {
	case table.KindNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return table.Null(k), false
		}
		return table.Number(f), true
	case table.KindBool:
		b, ok := ParseBoolLoose(raw)
		if !ok {
			return table.Null(k), false
		}
		return table.Bool(b), true
	default:
		return table.String(raw), true
	}
}
