package parser

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"rag-chat/internal/helper"
	"rag-chat/internal/models"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000 // characters
	DefaultChunkOverlap = 200  // characters
)

// DefaultSeparators prefer Markdown section boundaries, then paragraphs,
// lines and words. The empty separator is the raw character cut.
var DefaultSeparators = []string{"\n## ", "\n### ", "\n\n", "\n", " ", ""}

type ChunkParams struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

func DefaultChunkParams() ChunkParams {
	return ChunkParams{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		Separators:   DefaultSeparators,
	}
}

func (p ChunkParams) Validate() error {
	if p.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", p.ChunkSize)
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", p.ChunkSize, p.ChunkOverlap)
	}
	return nil
}

func (p ChunkParams) splitter() textsplitter.RecursiveCharacter {
	seps := p.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	// the splitter needs the character cut as its last resort
	if seps[len(seps)-1] != "" {
		seps = append(slices.Clone(seps), "")
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(p.ChunkSize),
		textsplitter.WithChunkOverlap(p.ChunkOverlap),
		textsplitter.WithSeparators(seps),
		textsplitter.WithKeepSeparator(true),
	)
}

// Split turns documents into ordered chunks. Chunk ids are derived from the
// chunk's source, position and text, so the same input always yields the same
// chunks. ChunkID restarts at 1 for every document.
func Split(docs []models.Document, p ChunkParams) ([]models.Chunk, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	splitter := p.splitter()

	var (
		chunks  []models.Chunk
		ordinal int
	)
	for _, doc := range docs {
		parts, err := splitter.SplitText(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to split %s page %d: %w", doc.Source, doc.PageNumber, err)
		}
		for i, part := range parts {
			meta := make(map[string]string, len(doc.Metadata)+3)
			maps.Copy(meta, doc.Metadata)
			meta[models.MetaSource] = doc.Source
			meta[models.MetaPage] = strconv.Itoa(doc.PageNumber)
			meta[models.MetaChunkID] = strconv.Itoa(i + 1)

			chunks = append(chunks, models.Chunk{
				ID:         helper.ChunkUUID(doc.Source, ordinal, part),
				Content:    part,
				Source:     doc.Source,
				PageNumber: doc.PageNumber,
				ChunkID:    i + 1,
				Metadata:   meta,
			})
			ordinal++
		}
	}
	return chunks, nil
}
