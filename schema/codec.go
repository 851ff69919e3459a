package schema

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Codec translates attribute values between their domain representation and
// the representation handed to the store driver. Encode maps domain to
// storage, Decode maps storage to domain. Both must be total inverses for
// supported inputs, and Decode must accept an already-decoded value.
type Codec struct {
	Encode func(v any) (any, error)
	Decode func(v any) (any, error)
}

// Registry maps attribute kinds to codecs. It is an explicit value threaded
// through schema construction so independent schemas can carry independent
// codec sets; there is no process-wide registry.
type Registry struct {
	kinds map[Kind]Codec
}

// NewRegistry returns a registry seeded with the default codecs.
func NewRegistry() *Registry {
	r := &Registry{kinds: make(map[Kind]Codec)}
	r.kinds[KindUUID] = Codec{Encode: encodeUUID, Decode: decodeUUID}
	r.kinds[KindInt] = Codec{Encode: encodeInt, Decode: decodeInt}
	r.kinds[KindLong] = Codec{Encode: encodeLong, Decode: decodeLong}
	r.kinds[KindBool] = Codec{Encode: encodeBool, Decode: decodeBool}
	r.kinds[KindDecimal] = Codec{Encode: encodeDecimal, Decode: decodeDecimal}
	r.kinds[KindInstant] = Codec{Encode: encodeInstant, Decode: decodeInstant}
	for _, k := range []Kind{KindString, KindPassword, KindEnum, KindKeyword, KindSymbol} {
		r.kinds[k] = Codec{Encode: encodeString, Decode: decodeString}
	}
	// Ref columns store the target's id; the plan generator and resolvers
	// encode them through the target identity's codec.
	r.kinds[KindRef] = Codec{Encode: passthrough, Decode: passthrough}
	return r
}

// Register overrides the codec for a kind.
func (r *Registry) Register(k Kind, c Codec) { r.kinds[k] = c }

// resolve returns the codec for the attribute: its own override if present,
// otherwise the kind default. Called once at schema compile time.
func (r *Registry) resolve(a *Attr) (Codec, error) {
	if a.Codec != nil {
		return *a.Codec, nil
	}
	c, ok := r.kinds[a.Kind]
	if !ok {
		return Codec{}, fmt.Errorf("schema: no codec registered for kind %s (attribute %q)", a.Kind, a.Key)
	}
	return c, nil
}

func passthrough(v any) (any, error) { return v, nil }

func encodeUUID(v any) (any, error) {
	switch v := v.(type) {
	case uuid.UUID:
		return v.String(), nil
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("schema: invalid uuid %q: %w", v, err)
		}
		return u.String(), nil
	}
	return nil, fmt.Errorf("schema: cannot encode %T as uuid", v)
}

func decodeUUID(v any) (any, error) {
	switch v := v.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		return uuid.Parse(v)
	case []byte:
		return uuid.ParseBytes(v)
	}
	return nil, fmt.Errorf("schema: cannot decode %T as uuid", v)
}

func encodeInt(v any) (any, error) {
	switch v := v.(type) {
	case int32:
		return int64(v), nil
	case int:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("schema: %d overflows int", v)
		}
		return int64(v), nil
	case int64:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("schema: %d overflows int", v)
		}
		return v, nil
	}
	return nil, fmt.Errorf("schema: cannot encode %T as int", v)
}

func decodeInt(v any) (any, error) {
	switch v := v.(type) {
	case int32:
		return v, nil
	case int64:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("schema: stored value %d overflows int", v)
		}
		return int32(v), nil
	}
	return nil, fmt.Errorf("schema: cannot decode %T as int", v)
}

func encodeLong(v any) (any, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	}
	return nil, fmt.Errorf("schema: cannot encode %T as long", v)
}

func decodeLong(v any) (any, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	}
	return nil, fmt.Errorf("schema: cannot decode %T as long", v)
}

func encodeString(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("schema: cannot encode %T as string", v)
	}
	return s, nil
}

func decodeString(v any) (any, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	return nil, fmt.Errorf("schema: cannot decode %T as string", v)
}

func encodeBool(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("schema: cannot encode %T as boolean", v)
	}
	return b, nil
}

func decodeBool(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("schema: cannot decode %T as boolean", v)
	}
	return b, nil
}

func encodeDecimal(v any) (any, error) {
	switch v := v.(type) {
	case decimal.Decimal:
		return v.String(), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("schema: invalid decimal %q: %w", v, err)
		}
		return d.String(), nil
	}
	return nil, fmt.Errorf("schema: cannot encode %T as decimal", v)
}

func decodeDecimal(v any) (any, error) {
	switch v := v.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		return decimal.NewFromString(v)
	case []byte:
		return decimal.NewFromString(string(v))
	}
	return nil, fmt.Errorf("schema: cannot decode %T as decimal", v)
}

// Instants are stored at microsecond precision in UTC, matching timestamptz.
func encodeInstant(v any) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("schema: cannot encode %T as instant", v)
	}
	return t.UTC().Truncate(time.Microsecond), nil
}

func decodeInstant(v any) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("schema: cannot decode %T as instant", v)
	}
	return t.UTC().Truncate(time.Microsecond), nil
}
