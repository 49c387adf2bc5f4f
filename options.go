package yamabiko

import "time"

// CollectionOptions groups collection-wide tunables, following the same
// "options struct with a sane-default constructor" shape as SOP's
// StoreOptions/DatabaseOptions.
type CollectionOptions struct {
	// AuthorName and AuthorEmail are used as the commit identity for every
	// mutation the engine produces.
	AuthorName  string
	AuthorEmail string

	// LockTimeout bounds how long a mutating call waits to acquire the
	// collection-wide exclusive lock before giving up.
	LockTimeout time.Duration

	// IndexLeafHashWidth controls how many hex characters of the xxhash-64
	// record-key suffix are kept on each index leaf path.
	IndexLeafHashWidth int

	// NumericIntegerWidth is not read by the collection or the index
	// package: index.CoerceNumeric always zero-pads the whole scaled
	// magnitude to a fixed 20 digits, whatever this field holds.
	NumericIntegerWidth int
}

// DefaultCollectionOptions returns the options used when none are supplied
// to OpenOrCreate.
func DefaultCollectionOptions() CollectionOptions {
	return CollectionOptions{
		AuthorName:          "yamabiko",
		AuthorEmail:         "yamabiko@localhost",
		LockTimeout:         30 * time.Second,
		IndexLeafHashWidth:  16,
		NumericIntegerWidth: 20,
	}
}
