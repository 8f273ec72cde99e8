package models

// SearchResult represents a single hit resolved back to its knowledge entry.
type SearchResult struct {
	ID            int64   `json:"id"`
	Question      string  `json:"question"`
	Answer        string  `json:"answer"`
	Score         float64 `json:"score"`
	KeywordScore  float64 `json:"keyword_score,omitempty"`
	SemanticScore float64 `json:"similarity_score,omitempty"`
	Rank          int     `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	KBID      string          `json:"kb_id"`
	Query     string          `json:"query"`
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
}
