package rag

import "fmt"

// IngestionError is returned by Engine.Ingest. The index keeps its previous
// snapshot whenever it is returned.
type IngestionError struct {
	Reason string
	Err    error
}

func (e *IngestionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingestion failed: %s: %v", e.Reason, e.Err)
	}
	return "ingestion failed: " + e.Reason
}

func (e *IngestionError) Unwrap() error { return e.Err }

// SynthesisError is returned by Engine.Answer for genuine failures. A
// question the document cannot answer is not an error.
type SynthesisError struct {
	Reason string
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("answer failed: %s: %v", e.Reason, e.Err)
	}
	return "answer failed: " + e.Reason
}

func (e *SynthesisError) Unwrap() error { return e.Err }
