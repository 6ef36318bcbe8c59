package domain

// ChunkRecord is the unit of storage in the vector index: one embedded
// substring of a source document, stamped with its document and project scope.
type ChunkRecord struct {
	ID         string    `json:"id"          db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	ProjectID  string    `json:"project_id"  db:"project_id"`
	Text       string    `json:"text"        db:"text"`
	Vector     []float32 `json:"-"           db:"vector"`
}

// ScoredChunk is returned by similarity search. Score is cosine similarity
// in [-1, 1]; results are ordered most similar first.
type ScoredChunk struct {
	ChunkRecord
	Score float64 `json:"score"`
}
