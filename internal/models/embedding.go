package models

// Chunk represents a split window of the serialized corpus
type Chunk struct {
	Content string
	ChunkID int
}

// ChunkEmbedding is a chunk together with its vector
type ChunkEmbedding struct {
	Content   string
	Embedding []float32
	ChunkID   int
}

// RetrievedChunk is a chunk returned by a similarity query. Rank starts at 1.
type RetrievedChunk struct {
	ID         string
	Content    string
	Similarity float32
	Rank       int
}
