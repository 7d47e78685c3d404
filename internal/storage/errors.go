package storage

import "errors"

// Sentinel errors shared by the memory, Postgres and ClickHouse stores.
var (
	// ErrNotFound means the dataset, run or latency point is not stored.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey means the key is already stored. Datasets, fills,
	// reports and equity samples are written once and never updated.
	ErrDuplicateKey = errors.New("duplicate key: records are write-once")

	// ErrInvalidInput means a record is missing its key fields or violates
	// a column constraint.
	ErrInvalidInput = errors.New("invalid input")
)
