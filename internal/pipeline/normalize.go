package pipeline

import (
	"fmt"

	"wqm/internal/schema"
)

// HeaderMapping describes how one instrument's raw header lines up with the
// canonical schema. Source[i] is the raw position feeding canonical column
// i, or -1 when the instrument does not record that column.
type HeaderMapping struct {
	Header  []string
	Source  []int
	Width   int
	Renamed map[string]string
	Missing []string
	Unknown []string
}

// MapHeader resolves aliases in a raw header and places every known column
// at its canonical index. The first raw token is always the timestamp.
func MapHeader(s *schema.Schema, raw []string) HeaderMapping {
	m := HeaderMapping{
		Header:  s.Names(),
		Source:  make([]int, s.Len()),
		Width:   len(raw),
		Renamed: map[string]string{},
	}
	for i := range m.Source {
		m.Source[i] = -1
	}
	if len(raw) > 0 {
		m.Source[0] = 0
	}

	for pos := 1; pos < len(raw); pos++ {
		token := raw[pos]
		name, idx, ok := s.Canonical(token)
		if !ok || idx == 0 {
			m.Unknown = append(m.Unknown, token)
			continue
		}
		if m.Source[idx] >= 0 {
			// a column and its alias both present; the earlier one wins
			m.Unknown = append(m.Unknown, token)
			continue
		}
		if name != token {
			m.Renamed[token] = name
		}
		m.Source[idx] = pos
	}

	for i := 1; i < len(m.Source); i++ {
		if m.Source[i] < 0 {
			m.Missing = append(m.Missing, s.Name(i))
		}
	}
	return m
}

// NormalizeHeader returns the instrument-normalized header: position 0
// forced to Timestamp, aliases resolved, and missing canonical columns
// inserted at their fixed positions.
func NormalizeHeader(s *schema.Schema, raw []string) []string {
	return MapHeader(s, raw).Header
}

// Apply reshapes one data row to the canonical layout, filling columns the
// instrument lacks with placeholder.
func (m HeaderMapping) Apply(row []string, placeholder string) ([]string, error) {
	if len(row) == m.Width+1 && row[len(row)-1] == "" {
		row = row[:m.Width]
	}
	if len(row) != m.Width {
		return nil, fmt.Errorf("%w: row has %d fields, header has %d", ErrSchemaMismatch, len(row), m.Width)
	}

	out := make([]string, len(m.Source))
	for i, pos := range m.Source {
		if pos < 0 {
			out[i] = placeholder
			continue
		}
		out[i] = row[pos]
	}
	if len(out) != len(m.Header) {
		return nil, fmt.Errorf("%w: normalized row has %d fields, schema has %d", ErrSchemaMismatch, len(out), len(m.Header))
	}
	return out, nil
}

// NormalizeRow reshapes a single row given its instrument's original
// header line.
func NormalizeRow(s *schema.Schema, header, row []string, placeholder string) ([]string, error) {
	return MapHeader(s, header).Apply(row, placeholder)
}
