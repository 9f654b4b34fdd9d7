package rag

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by Ask until the knowledge index is queryable.
	ErrNotReady = errors.New("rag: service not ready")

	ErrEmptyQuestion = errors.New("rag: empty question")
)

const (
	StageRetrieve = "retrieve"
	StagePrompt   = "prompt"
	StageGenerate = "generate"
)

// SynthesisError wraps a failure while answering a question.
type SynthesisError struct {
	Stage string
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("rag: %s: %v", e.Stage, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
