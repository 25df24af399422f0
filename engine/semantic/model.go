package semantic

import "time"

// Metadata is the payload stored with every content vector.
type Metadata struct {
	Type       string    `json:"type"`
	URL        string    `json:"url"`
	BusinessID string    `json:"business_id"`
	Title      string    `json:"title"`
	Topics     []string  `json:"topics"`
	WordCount  int       `json:"word_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// VectorRecord is one vector to upsert.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Metadata  Metadata
}

// Match is one similarity query hit.
type Match struct {
	ID       string   `json:"id"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}
