package lock

import (
	stdErrors "errors"
	"time"
)

// ErrInvalidLease is returned when a lock field is declared without a
// positive lease.
var ErrInvalidLease = stdErrors.New("lock: lease must be greater than zero")

// Field describes one declared lock: the key prefix, the lease after which a
// held lock is force-released, an optional fixed holder id and the prefix of
// the recursion bookkeeping sets used for cycle detection. Fields are
// immutable after construction.
type Field struct {
	prefix          string
	recursionPrefix string
	lease           time.Duration
	holderID        string
}

// FieldOption configures a Field.
type FieldOption func(*Field)

// WithPrefix sets the lock key prefix.
func WithPrefix(p string) FieldOption {
	return func(f *Field) { f.prefix = p }
}

// WithRecursionPrefix overrides the prefix of the recursion bookkeeping
// keys. The default derives from the lock prefix.
func WithRecursionPrefix(p string) FieldOption {
	return func(f *Field) { f.recursionPrefix = p }
}

// WithHolderID fixes the holder id for every lock of this field instead of
// generating a fresh one per acquisition. Fixed ids allow shared ownership
// across processes, at the operator's own risk.
func WithHolderID(id string) FieldOption {
	return func(f *Field) { f.holderID = id }
}

// NewField returns a lock field with the given lease, which must be
// positive: the lease bounds how long a crashed holder can keep the lock.
func NewField(lease time.Duration, opts ...FieldOption) (*Field, error) {
	if lease <= 0 {
		return nil, ErrInvalidLease
	}
	f := &Field{lease: lease}
	for _, opt := range opts {
		opt(f)
	}
	if f.recursionPrefix == "" {
		if f.prefix != "" {
			f.recursionPrefix = f.prefix + "-rec"
		} else {
			f.recursionPrefix = "rec"
		}
	}
	return f, nil
}

// MustField is NewField for package-level declarations; it panics on an
// invalid lease.
func MustField(lease time.Duration, opts ...FieldOption) *Field {
	f, err := NewField(lease, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

// Clone returns an independent copy of the field.
func (f *Field) Clone() *Field {
	c := *f
	return &c
}

// Lease reports the configured lease duration.
func (f *Field) Lease() time.Duration { return f.lease }

// Prefix reports the configured lock key prefix.
func (f *Field) Prefix() string { return f.prefix }

// key returns the full lock key for name.
func (f *Field) key(name string) string {
	if f.prefix == "" {
		return name
	}
	return f.prefix + ":" + name
}

// recursionKey returns the bookkeeping set key for name.
func (f *Field) recursionKey(name string) string {
	return f.recursionPrefix + ":" + name
}

// keyPrefixArg and recursionPrefixArg are the prefix forms handed to the
// acquire script, which concatenates them directly with lock names.

func (f *Field) keyPrefixArg() string {
	if f.prefix == "" {
		return ""
	}
	return f.prefix + ":"
}

func (f *Field) recursionPrefixArg() string {
	return f.recursionPrefix + ":"
}
