// Package schema holds the canonical column layout every reconciled row
// conforms to, together with the alias table for legacy column names.
//
// A Schema is built once (Default, New or LoadFile) and never mutated, so
// it can be passed to every pipeline stage without copying.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"wqm/internal/util"
)

const TimestampColumn = "Timestamp"

var ErrInvalidSchema = errors.New("invalid schema")

var defaultColumns = []string{
	"Timestamp", "WQM", "SN", "Status", "Date(mmddyy)", "Time(hhmmss)",
	"Cond(S/m)", "Temp(C)", "Pres(dbar)", "Sal(PSU)", "RawDO(Hz)",
	"DO(ml/l)", "DO(mg/l)", "PercentOxSat(%)", "RawCHL(cts)", "CHL(ug/l)",
	"RawTurbidity(cts)", "NTU", "SoundVelocity(m/s)", "Volts",
}

var defaultAliases = map[string]string{
	"CHLa(Counts)":      "RawCHL(cts)",
	"CHLa(ug/l)":        "CHL(ug/l)",
	"Turbidity(Counts)": "RawTurbidity(cts)",
	"SV(m/s)":           "SoundVelocity(m/s)",
	"Turbidity(NTU)":    "NTU",
}

type Schema struct {
	names   []string
	index   map[string]int
	folded  map[string]int
	aliases map[string]string
	// lower-cased alias -> canonical name
	foldedAliases map[string]string
	reverse       map[string][]string
}

type fileFormat struct {
	Columns []string          `json:"columns"`
	Aliases map[string]string `json:"aliases"`
}

// Default returns the reference 20-column water-quality schema.
func Default() *Schema {
	s, err := New(defaultColumns, defaultAliases)
	if err != nil {
		panic(err)
	}
	return s
}

func New(columns []string, aliases map[string]string) (*Schema, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrInvalidSchema)
	}
	if columns[0] != TimestampColumn {
		return nil, fmt.Errorf("%w: column 0 must be %q, got %q", ErrInvalidSchema, TimestampColumn, columns[0])
	}

	s := &Schema{
		names:         make([]string, len(columns)),
		index:         make(map[string]int, len(columns)),
		folded:        make(map[string]int, len(columns)),
		aliases:       make(map[string]string, len(aliases)),
		foldedAliases: make(map[string]string, len(aliases)),
		reverse:       map[string][]string{},
	}
	for i, name := range columns {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty column name at index %d", ErrInvalidSchema, i)
		}
		key := strings.ToLower(name)
		if _, dup := s.folded[key]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrInvalidSchema, name)
		}
		s.names[i] = name
		s.index[name] = i
		s.folded[key] = i
	}

	for raw, target := range aliases {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, fmt.Errorf("%w: empty alias for %q", ErrInvalidSchema, target)
		}
		idx, ok := s.index[target]
		if !ok {
			return nil, fmt.Errorf("%w: alias %q targets unknown column %q", ErrInvalidSchema, raw, target)
		}
		if _, clash := s.folded[strings.ToLower(raw)]; clash {
			return nil, fmt.Errorf("%w: alias %q shadows a canonical column", ErrInvalidSchema, raw)
		}
		if prev, dup := s.foldedAliases[strings.ToLower(raw)]; dup && prev != target {
			return nil, fmt.Errorf("%w: alias %q maps to both %q and %q", ErrInvalidSchema, raw, prev, target)
		}
		s.aliases[raw] = s.names[idx]
		s.foldedAliases[strings.ToLower(raw)] = s.names[idx]
		s.reverse[target] = append(s.reverse[target], raw)
	}

	return s, nil
}

// LoadFile reads a JSON schema of the form {"columns": [...], "aliases": {...}}.
func LoadFile(path string) (*Schema, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileFormat
	if err := json.Unmarshal(blob, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, path, err)
	}
	return New(f.Columns, f.Aliases)
}

func (s *Schema) Len() int { return len(s.names) }

// Names returns a copy of the canonical column names in order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s *Schema) Name(i int) string { return s.names[i] }

// IndexOf returns the canonical position of name. Exact matches win over
// case-insensitive ones.
func (s *Schema) IndexOf(name string) (int, bool) {
	if i, ok := s.index[name]; ok {
		return i, true
	}
	i, ok := s.folded[strings.ToLower(strings.TrimSpace(name))]
	return i, ok
}

// ResolveAlias maps a legacy column name to its canonical name. Names that
// are not aliases come back unchanged.
func (s *Schema) ResolveAlias(name string) string {
	if target, ok := s.aliases[name]; ok {
		return target
	}
	if target, ok := s.foldedAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return target
	}
	return name
}

// Canonical resolves name through the alias table and reports its
// canonical column, if any.
func (s *Schema) Canonical(name string) (string, int, bool) {
	i, ok := s.IndexOf(s.ResolveAlias(name))
	if !ok {
		return "", -1, false
	}
	return s.names[i], i, true
}

func (s *Schema) AliasesFor(canonical string) []string {
	out := make([]string, len(s.reverse[canonical]))
	copy(out, s.reverse[canonical])
	return out
}

// Suggest returns the canonical column that looks most like name.
func (s *Schema) Suggest(name string) (string, float64) {
	query := strings.ToLower(name)
	best, bestScore := "", 0.0
	consider := func(candidate, canonical string) {
		score := util.DiceCoefficient(query, strings.ToLower(candidate))
		if score > bestScore {
			best, bestScore = canonical, score
		}
	}
	for _, n := range s.names {
		consider(n, n)
	}
	for raw, target := range s.aliases {
		consider(raw, target)
	}
	return best, bestScore
}
