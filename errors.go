package taintflow

import "errors"

var (
	// ErrFactStoreIncomplete is returned when a required fact table is
	// missing entirely. An empty table is fine; a missing one means the
	// indexer never ran or failed partway, and any analysis would look
	// complete while covering nothing.
	ErrFactStoreIncomplete = errors.New("fact store incomplete")

	// ErrNilCatalog is returned by New when no catalog is supplied.
	ErrNilCatalog = errors.New("taintflow: nil catalog")

	// ErrNilReader is returned by New when no fact reader is supplied.
	ErrNilReader = errors.New("taintflow: nil fact reader")
)
