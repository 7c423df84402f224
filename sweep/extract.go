package sweep

import (
	"fmt"
	"strconv"
	"strings"
)

// Report holds the metrics extracted from one simulator run.
type Report struct {
	AAT          float64 // average access time, in simulator time units
	OverheadBits uint64  // tag and metadata storage overhead
	Ratio        float64 // storage overhead ratio, printed as "Ratio:"
}

// FieldKind is the numeric type expected after a label.
type FieldKind int

const (
	KindFloat FieldKind = iota
	KindInt
)

func (k FieldKind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// Field maps one textual label in the simulator's report to a Report member.
// Assign receives the parsed value as float64 for KindFloat and as uint64
// (stored in the integer argument) for KindInt.
type Field struct {
	Label  string
	Kind   FieldKind
	Assign func(r *Report, f float64, n uint64)
}

// DefaultFields describes the report layout of the cache simulator.
// A new simulator version only needs a new table.
var DefaultFields = []Field{
	{Label: "(AAT):", Kind: KindFloat, Assign: func(r *Report, f float64, _ uint64) { r.AAT = f }},
	{Label: "Overhead:", Kind: KindInt, Assign: func(r *Report, _ float64, n uint64) { r.OverheadBits = n }},
	{Label: "Ratio:", Kind: KindFloat, Assign: func(r *Report, f float64, _ uint64) { r.Ratio = f }},
}

// ParseError reports a label that was missing or not followed by a number
// of the expected kind.
type ParseError struct {
	Label  string
	Kind   FieldKind
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("extracting %s after %q: %s", e.Kind, e.Label, e.Reason)
}

// Extract parses text using the given field table. The first occurrence of
// each label wins.
func Extract(text string, fields []Field) (Report, error) {
	var r Report
	for _, f := range fields {
		tok, ok := tokenAfter(text, f.Label)
		if !ok {
			return Report{}, &ParseError{Label: f.Label, Kind: f.Kind, Reason: "label not found"}
		}
		if tok == "" {
			return Report{}, &ParseError{Label: f.Label, Kind: f.Kind, Reason: "no value after label"}
		}
		switch f.Kind {
		case KindFloat:
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return Report{}, &ParseError{Label: f.Label, Kind: f.Kind, Reason: fmt.Sprintf("bad value %q", tok)}
			}
			f.Assign(&r, v, 0)
		case KindInt:
			v, err := strconv.ParseUint(tok, 10, 64)
			if err != nil {
				return Report{}, &ParseError{Label: f.Label, Kind: f.Kind, Reason: fmt.Sprintf("bad value %q", tok)}
			}
			f.Assign(&r, 0, v)
		default:
			return Report{}, &ParseError{Label: f.Label, Kind: f.Kind, Reason: "unsupported kind"}
		}
	}
	return r, nil
}

// tokenAfter returns the run of number-like characters following label,
// skipping any whitespace, line breaks included.
func tokenAfter(text, label string) (string, bool) {
	i := strings.Index(text, label)
	if i < 0 {
		return "", false
	}
	rest := strings.TrimLeft(text[i+len(label):], " \t\r\n")
	end := strings.IndexFunc(rest, func(c rune) bool {
		return !(c >= '0' && c <= '9' || c == '.' || c == '-' || c == '+' || c == 'e' || c == 'E')
	})
	if end < 0 {
		end = len(rest)
	}
	// a sentence-ending period is not part of the number
	return strings.TrimRight(rest[:end], "."), true
}
