package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Chunk represents a passage of legal text from the knowledge base.
// Chunks are written once by the ingestion tooling and read-only afterwards.
type Chunk struct {
	ID           uuid.UUID              `json:"id"`
	DocumentName string                 `json:"document_name"`
	PageNumber   int                    `json:"page_number"`
	ChunkIndex   int                    `json:"chunk_index"`
	Content      string                 `json:"content"`
	Embedding    []float64              `json:"-"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Similarity   float64                `json:"similarity,omitempty"` // Cosine similarity to the query, set by search
}

// Citation returns the human-readable source reference for the chunk.
func (c *Chunk) Citation() string {
	if c.PageNumber > 0 {
		return fmt.Sprintf("%s, p. %d", c.DocumentName, c.PageNumber)
	}
	return c.DocumentName
}
