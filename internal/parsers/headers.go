package parsers

import (
	"strings"

	"portfolio-ingestion-service/internal/schema"
)

// HeaderMapping records how a file's raw headers map onto a table's
// canonical display names. Unrecognised headers map to themselves.
type HeaderMapping struct {
	// Raw holds the cleaned raw headers in file order.
	Raw []string
	// Canonical holds the mapped name for each raw header, in file order.
	Canonical []string
	// Recognized maps raw headers that matched a schema column to its
	// display name.
	Recognized map[string]string
}

// ReconcileHeaders maps raw headers to display names. For each header the
// first matching rule wins: exact display name, case-insensitive display
// name, case-insensitive alias. Anything else passes through unchanged.
func ReconcileHeaders(raw []string, ts *schema.TableSchema) *HeaderMapping {
	m := &HeaderMapping{
		Raw:        make([]string, len(raw)),
		Canonical:  make([]string, len(raw)),
		Recognized: make(map[string]string),
	}

	for i, h := range raw {
		cleaned := cleanHeader(h)
		m.Raw[i] = cleaned
		if name, ok := ts.Resolve(cleaned); ok {
			m.Canonical[i] = name
			m.Recognized[cleaned] = name
			continue
		}
		m.Canonical[i] = cleaned
	}

	return m
}

// Missing returns the required display names absent from the mapping.
func (m *HeaderMapping) Missing(ts *schema.TableSchema) []string {
	present := make(map[string]bool, len(m.Canonical))
	for _, c := range m.Canonical {
		present[c] = true
	}

	var missing []string
	for _, required := range ts.RequiredColumns() {
		if !present[required] {
			missing = append(missing, required)
		}
	}
	return missing
}

// Columns returns the effective column names in file order, without
// duplicates.
func (m *HeaderMapping) Columns() []string {
	seen := make(map[string]bool, len(m.Canonical))
	cols := make([]string, 0, len(m.Canonical))
	for _, c := range m.Canonical {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		cols = append(cols, c)
	}
	return cols
}

// Duplicates returns display names that more than one raw header maps to.
func (m *HeaderMapping) Duplicates() []string {
	count := make(map[string]int, len(m.Canonical))
	var dups []string
	for _, c := range m.Canonical {
		count[c]++
		if count[c] == 2 {
			dups = append(dups, c)
		}
	}
	return dups
}

// cleanHeader trims whitespace and strips byte order marks and zero-width
// characters that survive in headers exported by spreadsheet tools.
func cleanHeader(h string) string {
	h = strings.Map(func(r rune) rune {
		switch r {
		case '\ufeff', '\u200b', '\u200c', '\u200d':
			return -1
		}
		return r
	}, h)
	return strings.TrimSpace(h)
}
