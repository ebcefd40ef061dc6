package agent

import "errors"

var (
	// ErrGeneration: the text or structured generation service failed.
	ErrGeneration = errors.New("generation failed")
	// ErrExecution: the datastore rejected a query after the reactive repair.
	ErrExecution = errors.New("query execution failed")
	// ErrIndexUnavailable: the vector index is missing or misconfigured.
	ErrIndexUnavailable = errors.New("vector index unavailable")
	// ErrRetrieval: the retrieval stage could not produce evidence, including deadline expiry.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrPersistence: a history write failed.
	ErrPersistence = errors.New("history persistence failed")
)
