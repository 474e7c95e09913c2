// Package idgen provides the default engine id generation strategy. Ids
// exist only to be diagnostic-friendly; every engine accepts an injected
// Generator so tests can get deterministic ids.
package idgen

import "github.com/google/uuid"

// Generator produces a process-unique engine id, the <engineId> component
// of the <engineId>:<argTypeRepr>:<perCallCounter> call-id format.
type Generator interface {
	NewEngineID() string
}

// UUID is the default Generator, backed by github.com/google/uuid.
type UUID struct{}

func (UUID) NewEngineID() string { return uuid.New().String() }
