package models

// Document is a unit of loaded knowledge before chunking.
type Document struct {
	Source     string
	Content    string
	PageNumber int
	Metadata   map[string]string
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID         string
	Content    string
	Source     string
	PageNumber int
	ChunkID    int
	Metadata   map[string]string
}

// ScoredChunk is a chunk returned from a similarity query.
type ScoredChunk struct {
	Chunk
	Score float32
}

type PromptResponse struct {
	Query   string   `json:"query"`
	Content string   `json:"content"`
	Sources []string `json:"sources,omitempty"`
}
