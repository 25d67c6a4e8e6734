package domain

import "errors"

var (
	// ErrEmptyCorpus is returned when a query runs before any entry was built or loaded.
	ErrEmptyCorpus = errors.New("empty corpus")

	// ErrProvider marks a failed embedding call. It is fatal to the current request.
	ErrProvider = errors.New("embedding provider error")

	// ErrProviderTimeout marks an embedding call that ran out of time. It is transient.
	ErrProviderTimeout = errors.New("embedding provider timeout")

	// ErrStaleSnapshot is returned when a persisted snapshot no longer matches
	// the live configuration and must be rebuilt.
	ErrStaleSnapshot = errors.New("stale corpus snapshot")

	// ErrSnapshotNotFound is returned when no snapshot exists at the given path.
	ErrSnapshotNotFound = errors.New("corpus snapshot not found")

	// ErrInvalidRecord marks a corpus record missing its question or answer.
	ErrInvalidRecord = errors.New("invalid corpus record")

	// ErrBackend marks a failed call to a remote search backend.
	ErrBackend = errors.New("search backend error")
)

// Unavailable reports whether err means retrieval cannot currently serve
// answers, as opposed to a bad request.
func Unavailable(err error) bool {
	return errors.Is(err, ErrEmptyCorpus) ||
		errors.Is(err, ErrProvider) ||
		errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, ErrBackend)
}
