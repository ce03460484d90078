package kv

import "errors"

var (
	// ErrNotFound is returned when a key is absent.
	ErrNotFound = errors.New("kv: key not found")
	// ErrKeyExists is returned by Add when the key is already present.
	ErrKeyExists = errors.New("kv: key already exists")
	// ErrTxnDone is returned for requests issued after commit or abort.
	ErrTxnDone = errors.New("kv: transaction has finished")
	// ErrReadOnly is returned for writes in a read-only transaction.
	ErrReadOnly = errors.New("kv: transaction is read-only")
	// ErrNotInScope is returned for collections the transaction did not name.
	ErrNotInScope = errors.New("kv: collection not in transaction scope")
	// ErrUnknownCollection is returned for collections missing from the schema.
	ErrUnknownCollection = errors.New("kv: unknown collection")
	// ErrUnknownIndex is returned for indexes missing from the schema.
	ErrUnknownIndex = errors.New("kv: unknown index")
	// ErrInvalidKey is returned when a key path does not resolve to a string.
	ErrInvalidKey = errors.New("kv: invalid key")
	// ErrVersion is returned when opening a store at a lower schema version
	// than the one persisted.
	ErrVersion = errors.New("kv: requested version is lower than stored version")
	// ErrCorrupt is returned when an existing store fails its integrity check.
	ErrCorrupt = errors.New("kv: store is corrupted")
	// ErrClosed is returned after the store has been closed.
	ErrClosed = errors.New("kv: store is closed")
)
