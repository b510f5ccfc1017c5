package repository

import (
	"context"
	"fmt"
	"strings"

	"ethicsprep-backend/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ChunkRepository handles database operations for legal document chunks
type ChunkRepository struct {
	db *pgxpool.Pool
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(db *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// formatVector formats an embedding vector as a string for pgx
func formatVector(embedding []float64) string {
	if len(embedding) == 0 {
		return "[]"
	}
	var parts []string
	for _, v := range embedding {
		parts = append(parts, fmt.Sprintf("%.6f", v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// InsertBatch stores freshly ingested chunks inside one transaction. Ingest
// is idempotent per document: callers skip documents that already have rows.
func (r *ChunkRepository) InsertBatch(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO legal_chunks (
			document_name, page_number, chunk_index, content, metadata, embedding
		) VALUES ($1, $2, $3, $4, $5, $6::vector)`

	for _, chunk := range chunks {
		_, err := tx.Exec(ctx, query,
			chunk.DocumentName,
			chunk.PageNumber,
			chunk.ChunkIndex,
			chunk.Content,
			chunk.Metadata,
			formatVector(chunk.Embedding),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	return tx.Commit(ctx)
}

// CountByDocument reports how many chunks a document already has.
func (r *ChunkRepository) CountByDocument(ctx context.Context, documentName string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM legal_chunks WHERE document_name = $1", documentName,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// ChunkSearchOptions narrows a chunk similarity search.
type ChunkSearchOptions struct {
	// MinSimilarity drops neighbors below this cosine similarity. A value
	// of -1 admits every neighbor.
	MinSimilarity float64
	// Documents restricts the search to the named source documents.
	Documents []string
}

// Search performs a cosine similarity search over the legal chunk corpus.
// Results are ordered most-similar first; size is at most limit. Primary-key
// selection guarantees no duplicate chunk ids.
func (r *ChunkRepository) Search(
	ctx context.Context,
	embedding []float64,
	limit int,
	opts ChunkSearchOptions,
) ([]models.Chunk, error) {
	if len(embedding) != 768 {
		return nil, fmt.Errorf("embedding must be 768 dimensions, got %d", len(embedding))
	}

	vectorStr := formatVector(embedding)

	conditions := []string{"1 - (embedding <=> $1::vector) >= $2"}
	args := []interface{}{vectorStr, opts.MinSimilarity}

	if len(opts.Documents) > 0 {
		args = append(args, opts.Documents)
		conditions = append(conditions, fmt.Sprintf("document_name = ANY($%d)", len(args)))
	}

	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT
			id,
			document_name,
			page_number,
			chunk_index,
			content,
			metadata,
			1 - (embedding <=> $1::vector) AS similarity
		FROM legal_chunks
		WHERE %s
		ORDER BY embedding <=> $1::vector
		LIMIT $%d`, strings.Join(conditions, " AND "), len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query legal chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentName,
			&chunk.PageNumber,
			&chunk.ChunkIndex,
			&chunk.Content,
			&chunk.Metadata,
			&chunk.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan legal chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating legal chunks: %w", err)
	}

	return chunks, nil
}
