package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// ErrUnavailable wraps backend failures (connection, I/O, closed database).
var ErrUnavailable = errors.New("store: backend unavailable")

// Store is a minimal string key-value area.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Apply writes all mutations atomically with respect to other Apply calls.
	Apply(ctx context.Context, mutations ...Mutation) error
}

// Mutation is a single write in a batch: a set, or a delete when Delete is true.
type Mutation struct {
	Key    string
	Value  string
	Delete bool
}

// Set returns a mutation storing value under key.
func Set(key, value string) Mutation {
	return Mutation{Key: key, Value: value}
}

// Del returns a mutation removing key. Deleting an absent key is not an error.
func Del(key string) Mutation {
	return Mutation{Key: key, Delete: true}
}
