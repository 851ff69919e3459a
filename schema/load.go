package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// attrSpec is the YAML shape of one attribute descriptor.
type attrSpec struct {
	Key          string   `yaml:"key"`
	Type         string   `yaml:"type"`
	Cardinality  string   `yaml:"cardinality"`
	Identity     bool     `yaml:"identity"`
	Owners       []string `yaml:"owners"`
	Partition    string   `yaml:"partition"`
	StorageName  string   `yaml:"storage-name"`
	IDColumn     string   `yaml:"id-column"`
	Sequence     string   `yaml:"sequence"`
	Target       string   `yaml:"target"`
	Mirror       string   `yaml:"mirror"`
	DeleteOrphan bool     `yaml:"delete-orphan"`
	OrderBy      string   `yaml:"order-by"`
}

type schemaFile struct {
	Attributes []attrSpec `yaml:"attributes"`
}

// Load reads a YAML schema declaration and compiles it with the given codec
// registry (nil for defaults).
func Load(r io.Reader, reg *Registry) (*Schema, error) {
	var f schemaFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("schema: parsing schema file: %w", err)
	}
	attrs := make([]Attr, 0, len(f.Attributes))
	for _, as := range f.Attributes {
		kind, err := ParseKind(as.Type)
		if err != nil {
			return nil, fmt.Errorf("schema: attribute %q: %w", as.Key, err)
		}
		card, err := ParseCardinality(as.Cardinality)
		if err != nil {
			return nil, fmt.Errorf("schema: attribute %q: %w", as.Key, err)
		}
		attrs = append(attrs, Attr{
			Key:            as.Key,
			Kind:           kind,
			Cardinality:    card,
			Identity:       as.Identity,
			Owners:         as.Owners,
			Partition:      as.Partition,
			StorageName:    as.StorageName,
			IDColumn:       as.IDColumn,
			Sequence:       as.Sequence,
			TargetIdentity: as.Target,
			MirrorKey:      as.Mirror,
			DeleteOrphan:   as.DeleteOrphan,
			OrderBy:        as.OrderBy,
		})
	}
	return New(reg, attrs)
}

// LoadFile reads and compiles the schema declaration at path.
func LoadFile(path string, reg *Registry) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: opening %s: %w", path, err)
	}
	defer f.Close()
	return Load(f, reg)
}
