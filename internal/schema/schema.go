package schema

import (
	"fmt"
	"strings"
)

// ColumnSpec describes one schema column. DisplayName is the canonical name
// rows are keyed by; FieldName is the storage-side identifier.
type ColumnSpec struct {
	DisplayName string   `yaml:"display_name"`
	FieldName   string   `yaml:"field_name"`
	Aliases     []string `yaml:"aliases,omitempty"`
}

// TableSchema describes one logical table and its ingestion policy.
type TableSchema struct {
	Name    string       `yaml:"-"`
	Columns []ColumnSpec `yaml:"columns"`
	// DateField is the FieldName of the column carrying the row date.
	DateField string `yaml:"date_field"`
	// DateFormats are Go layouts tried in order.
	DateFormats []string `yaml:"date_formats,omitempty"`
	// DateAssigned marks tables whose date is populated by the service
	// rather than supplied in the file.
	DateAssigned    bool              `yaml:"date_assigned,omitempty"`
	NumericFields   []string          `yaml:"numeric_fields,omitempty"`
	IntegerFields   []string          `yaml:"integer_fields,omitempty"`
	PercentFields   []string          `yaml:"percent_fields,omitempty"`
	OptionalColumns []string          `yaml:"optional_columns,omitempty"`
	RequiredValues  []string          `yaml:"required_values,omitempty"`
	Defaults        map[string]string `yaml:"defaults,omitempty"`

	byDisplay map[string]int
	byFolded  map[string]int
	byAlias   map[string]int
	numeric   map[string]bool
	integer   map[string]bool
	percent   map[string]bool
	optional  map[string]bool
}

// DisplayNames returns the column display names in schema order.
func (t *TableSchema) DisplayNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.DisplayName
	}
	return names
}

// DateColumn returns the display name of the date column.
func (t *TableSchema) DateColumn() string {
	for _, c := range t.Columns {
		if c.FieldName == t.DateField {
			return c.DisplayName
		}
	}
	return ""
}

// Column returns the column with the given display name.
func (t *TableSchema) Column(displayName string) (ColumnSpec, bool) {
	i, ok := t.byDisplay[displayName]
	if !ok {
		return ColumnSpec{}, false
	}
	return t.Columns[i], true
}

// Resolve maps a raw header to a display name using, in order, an exact
// display name match, a case-insensitive display name match and a
// case-insensitive alias match.
func (t *TableSchema) Resolve(header string) (string, bool) {
	if i, ok := t.byDisplay[header]; ok {
		return t.Columns[i].DisplayName, true
	}
	folded := fold(header)
	if i, ok := t.byFolded[folded]; ok {
		return t.Columns[i].DisplayName, true
	}
	if i, ok := t.byAlias[folded]; ok {
		return t.Columns[i].DisplayName, true
	}
	return "", false
}

// RequiredColumns returns the display names a file must contain: every
// column except optional ones and a service-assigned date column.
func (t *TableSchema) RequiredColumns() []string {
	dateColumn := t.DateColumn()
	var required []string
	for _, c := range t.Columns {
		if t.optional[c.DisplayName] {
			continue
		}
		if t.DateAssigned && c.DisplayName == dateColumn {
			continue
		}
		required = append(required, c.DisplayName)
	}
	return required
}

func (t *TableSchema) IsNumeric(displayName string) bool { return t.numeric[displayName] }
func (t *TableSchema) IsInteger(displayName string) bool { return t.integer[displayName] }
func (t *TableSchema) IsPercent(displayName string) bool { return t.percent[displayName] }

// Validate checks the schema invariants and builds the lookup indexes.
func (t *TableSchema) Validate() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", t.Name)
	}

	t.byDisplay = make(map[string]int, len(t.Columns))
	t.byFolded = make(map[string]int, len(t.Columns))
	t.byAlias = make(map[string]int)
	fields := make(map[string]bool, len(t.Columns))

	for i, c := range t.Columns {
		name := strings.TrimSpace(c.DisplayName)
		if name == "" {
			return fmt.Errorf("table %s: column %d has an empty display name", t.Name, i+1)
		}
		if _, dup := t.byDisplay[name]; dup {
			return fmt.Errorf("table %s: duplicate display name %q", t.Name, name)
		}
		if _, dup := t.byFolded[fold(name)]; dup {
			return fmt.Errorf("table %s: display name %q differs from another only by case", t.Name, name)
		}
		if c.FieldName == "" {
			return fmt.Errorf("table %s: column %q has no field name", t.Name, name)
		}
		if fields[c.FieldName] {
			return fmt.Errorf("table %s: duplicate field name %q", t.Name, c.FieldName)
		}
		fields[c.FieldName] = true
		t.byDisplay[name] = i
		t.byFolded[fold(name)] = i
	}

	// Aliases are checked after all display names are known so that an alias
	// shadowing another column's display name is caught.
	for i, c := range t.Columns {
		for _, alias := range c.Aliases {
			key := fold(alias)
			if j, ok := t.byFolded[key]; ok && j != i {
				return fmt.Errorf("table %s: alias %q of %q matches column %q", t.Name, alias, c.DisplayName, t.Columns[j].DisplayName)
			}
			if j, ok := t.byAlias[key]; ok && j != i {
				return fmt.Errorf("table %s: alias %q is shared by %q and %q", t.Name, alias, t.Columns[j].DisplayName, c.DisplayName)
			}
			t.byAlias[key] = i
		}
	}

	if !fields[t.DateField] {
		return fmt.Errorf("table %s: date field %q does not reference a column", t.Name, t.DateField)
	}
	if len(t.DateFormats) == 0 && !t.DateAssigned {
		return fmt.Errorf("table %s: no date formats configured", t.Name)
	}

	var err error
	if t.numeric, err = t.index("numeric_fields", t.NumericFields); err != nil {
		return err
	}
	if t.integer, err = t.index("integer_fields", t.IntegerFields); err != nil {
		return err
	}
	if t.percent, err = t.index("percent_fields", t.PercentFields); err != nil {
		return err
	}
	if t.optional, err = t.index("optional_columns", t.OptionalColumns); err != nil {
		return err
	}
	if _, err = t.index("required_values", t.RequiredValues); err != nil {
		return err
	}
	for name := range t.Defaults {
		if _, ok := t.byDisplay[name]; !ok {
			return fmt.Errorf("table %s: default for unknown column %q", t.Name, name)
		}
	}
	for name := range t.percent {
		t.numeric[name] = true
	}

	return nil
}

func (t *TableSchema) index(setting string, names []string) (map[string]bool, error) {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := t.byDisplay[n]; !ok {
			return nil, fmt.Errorf("table %s: %s references unknown column %q", t.Name, setting, n)
		}
		set[n] = true
	}
	return set, nil
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
