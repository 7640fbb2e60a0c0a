package model

import "time"

// Field is one entry of a Schema: a wire key plus the code that moves its
// value between a Record and a *T.
type Field[T any] struct {
	Key   string
	read  func(e *T, v any)
	write func(e *T, r Record)
}

// Schema is the static field declaration for entity type T.
type Schema[T any] struct {
	fields []Field[T]
}

// NewSchema declares a schema. Field order is the order ToRecord walks.
func NewSchema[T any](fields ...Field[T]) Schema[T] {
	return Schema[T]{fields: fields}
}

// Keys returns the declared wire keys.
func (s Schema[T]) Keys() []string {
	keys := make([]string, len(s.fields))
	for i, f := range s.fields {
		keys[i] = f.Key
	}
	return keys
}

// FromRecord builds a fresh *T from r. A nil record yields a zero entity.
func (s Schema[T]) FromRecord(r Record) *T {
	e := new(T)
	for _, f := range s.fields {
		v, ok := r[f.Key]
		if !ok || v == nil {
			continue
		}
		f.read(e, v)
	}
	return e
}

// ToRecord is the inverse of FromRecord over the declared fields.
func (s Schema[T]) ToRecord(e *T) Record {
	r := make(Record, len(s.fields))
	if e == nil {
		return r
	}
	for _, f := range s.fields {
		f.write(e, r)
	}
	return r
}

// ListFromRecords maps records in order, one entity per record.
func (s Schema[T]) ListFromRecords(records []Record) []*T {
	out := make([]*T, len(records))
	for i, r := range records {
		out[i] = s.FromRecord(r)
	}
	return out
}

// StringField declares a string field. It is always written.
func StringField[T any](key string, ref func(*T) *string) Field[T] {
	return Field[T]{
		Key:   key,
		read:  func(e *T, v any) { *ref(e) = asString(v) },
		write: func(e *T, r Record) { r[key] = *ref(e) },
	}
}

// IntField declares an integer field, emitted as int64. It is always written.
func IntField[T any](key string, ref func(*T) *int) Field[T] {
	return Field[T]{
		Key:   key,
		read:  func(e *T, v any) { *ref(e) = int(asInt(v)) },
		write: func(e *T, r Record) { r[key] = int64(*ref(e)) },
	}
}

// NonNegativeIntField is an IntField that clamps negative input to zero.
func NonNegativeIntField[T any](key string, ref func(*T) *int) Field[T] {
	f := IntField(key, ref)
	f.read = func(e *T, v any) {
		n := asInt(v)
		if n < 0 {
			n = 0
		}
		*ref(e) = int(n)
	}
	return f
}

// TimeField declares a timestamp carried in APIDateLayout. It is written
// only when set.
func TimeField[T any](key string, ref func(*T) *time.Time) Field[T] {
	return Field[T]{
		Key:  key,
		read: func(e *T, v any) { *ref(e) = asTime(v) },
		write: func(e *T, r Record) {
			if t := *ref(e); !t.IsZero() {
				r[key] = FormatAPIDate(t)
			}
		},
	}
}

// NestedField declares an embedded entity mapped through its own schema.
// Anything other than an object leaves the field nil. It is written only
// when set.
func NestedField[T, U any](key string, schema Schema[U], ref func(*T) **U) Field[T] {
	return Field[T]{
		Key: key,
		read: func(e *T, v any) {
			if nested, ok := asRecord(v); ok {
				*ref(e) = schema.FromRecord(nested)
			}
		},
		write: func(e *T, r Record) {
			if u := *ref(e); u != nil {
				r[key] = schema.ToRecord(u)
			}
		},
	}
}
