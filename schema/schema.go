// Package schema defines the attribute descriptors that describe an entity
// graph and how it is stored relationally, the value codecs translating
// between domain and storage representations, and the DDL generator.
//
// A Schema is compiled once from a list of Attr descriptors and is immutable
// afterwards; it is safe for unsynchronized concurrent reads.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-openapi/inflect"
)

// Kind is the storage kind of an attribute value.
type Kind uint8

// The supported attribute kinds.
const (
	KindInvalid Kind = iota
	KindUUID
	KindInt
	KindLong
	KindString
	KindPassword
	KindBool
	KindDecimal
	KindInstant
	KindEnum
	KindKeyword
	KindSymbol
	KindRef
)

var kindNames = [...]string{
	KindInvalid:  "invalid",
	KindUUID:     "uuid",
	KindInt:      "int",
	KindLong:     "long",
	KindString:   "string",
	KindPassword: "password",
	KindBool:     "boolean",
	KindDecimal:  "decimal",
	KindInstant:  "instant",
	KindEnum:     "enum",
	KindKeyword:  "keyword",
	KindSymbol:   "symbol",
	KindRef:      "ref",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind parses a kind name as it appears in schema files.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if k != int(KindInvalid) && name == s {
			return Kind(k), nil
		}
	}
	return KindInvalid, fmt.Errorf("schema: unknown kind %q", s)
}

// Cardinality describes how many values an attribute holds. It is only
// meaningful for ref attributes; everything else is a scalar.
type Cardinality uint8

const (
	// Scalar is a single non-reference value.
	Scalar Cardinality = iota
	// One is a to-one reference.
	One
	// Many is a to-many reference.
	Many
)

func (c Cardinality) String() string {
	switch c {
	case Scalar:
		return "scalar"
	case One:
		return "one"
	case Many:
		return "many"
	}
	return fmt.Sprintf("Cardinality(%d)", uint8(c))
}

// ParseCardinality parses a cardinality name.
func ParseCardinality(s string) (Cardinality, error) {
	switch s {
	case "", "scalar":
		return Scalar, nil
	case "one":
		return One, nil
	case "many":
		return Many, nil
	}
	return Scalar, fmt.Errorf("schema: unknown cardinality %q", s)
}

// Attr describes one named, typed piece of entity data and how it is stored.
// Attribute keys are namespaced by entity type, e.g. "account/name".
type Attr struct {
	// Key is the globally unique attribute key.
	Key string
	// Kind is the storage kind.
	Kind Kind
	// Cardinality is One or Many for ref attributes, Scalar otherwise.
	Cardinality Cardinality
	// Identity marks this attribute as the primary key of its entity type.
	Identity bool
	// Owners lists the identity keys of the entity types this attribute is
	// stored against. Defaults to "<namespace>/id".
	Owners []string
	// Partition is the logical schema this attribute lives in. Statements
	// never cross partitions.
	Partition string
	// StorageName is the column name, or the table name for identity
	// attributes. Derived from the key when empty.
	StorageName string
	// IDColumn is the primary-key column name for identity attributes.
	// Defaults to the name part of the key.
	IDColumn string
	// Sequence is the sequence allocating ids for int/long identities.
	// Derived from the table name when empty.
	Sequence string

	// TargetIdentity is the identity key of the referenced entity type.
	TargetIdentity string
	// MirrorKey is the reverse-direction attribute on the target that stores
	// the foreign key. Empty when this attribute stores its own foreign key.
	MirrorKey string
	// DeleteOrphan causes the previously referenced row to be deleted,
	// rather than unlinked, when the reference is cleared or re-pointed.
	DeleteOrphan bool
	// OrderBy names the target attribute ordering a to-many collection.
	OrderBy string

	// Codec overrides the kind's default value transform.
	Codec *Codec
}

// Namespace returns the entity-type part of the attribute key.
func (a *Attr) Namespace() string {
	if i := strings.IndexByte(a.Key, '/'); i >= 0 {
		return a.Key[:i]
	}
	return ""
}

// Name returns the name part of the attribute key.
func (a *Attr) Name() string {
	if i := strings.IndexByte(a.Key, '/'); i >= 0 {
		return a.Key[i+1:]
	}
	return a.Key
}

// IsRef reports whether the attribute is a reference.
func (a *Attr) IsRef() bool { return a.Kind == KindRef }

// Mirrored reports whether the foreign key for this reference is stored on
// the target side.
func (a *Attr) Mirrored() bool { return a.MirrorKey != "" }

// OwnedBy reports whether the attribute is stored against the given identity.
func (a *Attr) OwnedBy(identity string) bool {
	for _, o := range a.Owners {
		if o == identity {
			return true
		}
	}
	return false
}

// DefaultPartition is the partition used when a descriptor declares none.
const DefaultPartition = "public"

// Schema is the compiled, immutable attribute schema. Attributes are indexed
// by key and by owning identity, and every attribute has its codec resolved
// at compile time.
type Schema struct {
	attrs      []*Attr
	byKey      map[string]*Attr
	identities map[string]*Attr
	owned      map[string][]*Attr
	codecs     map[string]Codec
}

// New compiles a schema from the given descriptors. The registry supplies the
// per-kind codecs; a nil registry uses the defaults. The input descriptors
// are copied and normalized, never mutated.
func New(reg *Registry, attrs []Attr) (*Schema, error) {
	if reg == nil {
		reg = NewRegistry()
	}
	s := &Schema{
		byKey:      make(map[string]*Attr, len(attrs)),
		identities: make(map[string]*Attr),
		owned:      make(map[string][]*Attr),
		codecs:     make(map[string]Codec, len(attrs)),
	}
	for i := range attrs {
		a := attrs[i] // copy
		if err := normalize(&a); err != nil {
			return nil, err
		}
		if _, ok := s.byKey[a.Key]; ok {
			return nil, fmt.Errorf("schema: duplicate attribute key %q", a.Key)
		}
		s.byKey[a.Key] = &a
		s.attrs = append(s.attrs, &a)
		if a.Identity {
			s.identities[a.Key] = &a
		}
	}
	for _, a := range s.attrs {
		if err := s.validate(a); err != nil {
			return nil, err
		}
		if !a.Identity {
			for _, o := range a.Owners {
				s.owned[o] = append(s.owned[o], a)
			}
		}
		c, err := reg.resolve(a)
		if err != nil {
			return nil, err
		}
		s.codecs[a.Key] = c
	}
	for _, as := range s.owned {
		sort.Slice(as, func(i, j int) bool { return as[i].Key < as[j].Key })
	}
	return s, nil
}

func normalize(a *Attr) error {
	if !strings.Contains(a.Key, "/") {
		return fmt.Errorf("schema: attribute key %q is not namespaced", a.Key)
	}
	if a.Kind == KindInvalid {
		return fmt.Errorf("schema: attribute %q has no kind", a.Key)
	}
	if a.Partition == "" {
		a.Partition = DefaultPartition
	}
	if len(a.Owners) == 0 {
		if a.Identity {
			a.Owners = []string{a.Key}
		} else {
			a.Owners = []string{a.Namespace() + "/id"}
		}
	}
	if a.StorageName == "" {
		if a.Identity {
			a.StorageName = inflect.Pluralize(inflect.Underscore(a.Namespace()))
		} else {
			a.StorageName = inflect.Underscore(a.Name())
		}
	}
	if a.Identity {
		if a.IDColumn == "" {
			a.IDColumn = inflect.Underscore(a.Name())
		}
		if a.Sequence == "" && (a.Kind == KindInt || a.Kind == KindLong) {
			a.Sequence = a.StorageName + "_" + a.IDColumn + "_seq"
		}
	}
	return nil
}

func (s *Schema) validate(a *Attr) error {
	if a.Identity {
		switch a.Kind {
		case KindUUID, KindInt, KindLong:
		default:
			return fmt.Errorf("schema: identity %q must be uuid, int or long, got %s", a.Key, a.Kind)
		}
		if a.Cardinality != Scalar {
			return fmt.Errorf("schema: identity %q cannot be a collection", a.Key)
		}
		return nil
	}
	for _, o := range a.Owners {
		if _, ok := s.identities[o]; !ok {
			return fmt.Errorf("schema: attribute %q owned by unknown identity %q", a.Key, o)
		}
	}
	if a.Kind != KindRef {
		if a.Cardinality != Scalar {
			return fmt.Errorf("schema: non-ref attribute %q cannot have cardinality %s", a.Key, a.Cardinality)
		}
		return nil
	}
	target, ok := s.identities[a.TargetIdentity]
	if !ok {
		return fmt.Errorf("schema: ref %q targets unknown identity %q", a.Key, a.TargetIdentity)
	}
	if a.Cardinality == Many && !a.Mirrored() {
		return fmt.Errorf("schema: to-many ref %q requires a mirror key on the target", a.Key)
	}
	if a.Mirrored() {
		m, ok := s.byKey[a.MirrorKey]
		if !ok {
			return fmt.Errorf("schema: ref %q declares unknown mirror %q", a.Key, a.MirrorKey)
		}
		if m.Kind != KindRef || m.Mirrored() {
			return fmt.Errorf("schema: mirror %q of %q must be an owning-side ref", a.MirrorKey, a.Key)
		}
		if !m.OwnedBy(a.TargetIdentity) {
			return fmt.Errorf("schema: mirror %q of %q is not stored on target %q", a.MirrorKey, a.Key, a.TargetIdentity)
		}
	}
	if a.OrderBy != "" {
		o, ok := s.byKey[a.OrderBy]
		if !ok {
			return fmt.Errorf("schema: ref %q orders by unknown attribute %q", a.Key, a.OrderBy)
		}
		if !o.OwnedBy(a.TargetIdentity) {
			return fmt.Errorf("schema: ref %q orders by %q which is not stored on %q", a.Key, a.OrderBy, a.TargetIdentity)
		}
	}
	_ = target
	return nil
}

// Attrs returns the attributes in declaration order.
func (s *Schema) Attrs() []*Attr { return s.attrs }

// Attr returns the attribute with the given key.
func (s *Schema) Attr(key string) (*Attr, bool) {
	a, ok := s.byKey[key]
	return a, ok
}

// Identity returns the identity attribute with the given key.
func (s *Schema) Identity(key string) (*Attr, bool) {
	a, ok := s.identities[key]
	return a, ok
}

// Identities returns the identity keys in sorted order.
func (s *Schema) Identities() []string {
	keys := make([]string, 0, len(s.identities))
	for k := range s.identities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Owned returns the non-identity attributes stored against the given
// identity, sorted by key.
func (s *Schema) Owned(identity string) []*Attr { return s.owned[identity] }

// Codec returns the resolved codec for the given attribute key.
func (s *Schema) Codec(key string) (Codec, bool) {
	c, ok := s.codecs[key]
	return c, ok
}

// RequiresSequence reports whether the identity's ids are allocated from a
// store sequence rather than generated locally.
func (s *Schema) RequiresSequence(identity string) bool {
	a, ok := s.identities[identity]
	return ok && (a.Kind == KindInt || a.Kind == KindLong)
}

// EncodeID encodes a resolved id value of the given identity into its
// storage representation.
func (s *Schema) EncodeID(identity string, v any) (any, error) {
	c, ok := s.codecs[identity]
	if !ok {
		return nil, fmt.Errorf("schema: unknown identity %q", identity)
	}
	return c.Encode(v)
}

// DecodeID decodes a stored id value of the given identity into its domain
// representation.
func (s *Schema) DecodeID(identity string, v any) (any, error) {
	c, ok := s.codecs[identity]
	if !ok {
		return nil, fmt.Errorf("schema: unknown identity %q", identity)
	}
	return c.Decode(v)
}
