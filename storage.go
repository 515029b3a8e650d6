package walletstore

import "errors"

// ErrBucketNotFound is returned by storageTx.DeleteBucket when the bucket doesn't exist.
var ErrBucketNotFound = errors.New("bucket not found")

// storage is the key-value backend under the store: a Bolt file in
// production, an in-memory map in tests.
type storage interface {
	// BeginTx starts a new transaction. Only one writable transaction may be
	// open at a time; readers never block each other.
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	Writable() bool

	// Bucket returns nil if the bucket doesn't exist.
	Bucket(name string) storageBucket

	// CreateBucket creates a bucket if it doesn't exist.
	CreateBucket(name string) (storageBucket, error)

	DeleteBucket(name string) error

	// BucketNames lists root buckets in key order.
	BucketNames() []string

	// Commit makes the transaction durable before returning.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error
}

// storageBucket is a sorted key-value collection.
type storageBucket interface {
	// Get returns nil if not found. The returned slice is only valid until the
	// end of the transaction.
	Get(key []byte) []byte

	Put(key, value []byte) error

	Delete(key []byte) error

	// ForEach visits keys in order. Returning an error stops the iteration.
	ForEach(fn func(k, v []byte) error) error

	// NextSequence returns a monotonically increasing per-bucket integer.
	NextSequence() (uint64, error)

	KeyCount() int
}
