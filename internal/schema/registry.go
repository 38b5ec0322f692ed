package schema

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	apperrors "portfolio-ingestion-service/pkg/errors"
)

//go:embed tables.yaml
var defaultDefinition []byte

// Registry is the immutable set of table schemas. It is built once at start
// up and passed to every component that needs it.
type Registry struct {
	version string
	tables  map[string]*TableSchema
}

type definition struct {
	Version string                  `yaml:"version"`
	Tables  map[string]*TableSchema `yaml:"tables"`
}

// Load parses and validates a schema definition. Any defect is reported as a
// configuration error.
func Load(data []byte) (*Registry, error) {
	var def definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidSchema, "schema", "unparseable YAML", err)
	}
	if len(def.Tables) == 0 {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidSchema, "schema", "no tables defined", nil)
	}

	r := &Registry{
		version: def.Version,
		tables:  make(map[string]*TableSchema, len(def.Tables)),
	}
	for name, table := range def.Tables {
		if table == nil {
			return nil, apperrors.ConfigurationError(apperrors.CodeInvalidSchema, name, "empty table definition", nil)
		}
		table.Name = name
		if err := table.Validate(); err != nil {
			return nil, apperrors.ConfigurationError(apperrors.CodeInvalidSchema, name, err.Error(), err)
		}
		r.tables[name] = table
	}

	return r, nil
}

// LoadFile reads a schema definition from fs.
func LoadFile(fs afero.Fs, path string) (*Registry, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeMissingConfig, "schema_file", path, err)
	}
	return Load(data)
}

// Default returns the built-in table catalogue.
func Default() (*Registry, error) {
	return Load(defaultDefinition)
}

// MustDefault is Default for tests and static initialisation.
func MustDefault() *Registry {
	r, err := Default()
	if err != nil {
		panic(fmt.Sprintf("built-in schema is invalid: %v", err))
	}
	return r
}

// Get returns the schema for a table.
func (r *Registry) Get(table string) (*TableSchema, bool) {
	t, ok := r.tables[table]
	return t, ok
}

// Tables returns the table names in sorted order.
func (r *Registry) Tables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Version returns the definition's version label.
func (r *Registry) Version() string {
	return r.version
}
