package models

// ScoredResult pairs a passage with its relevance score. Scores are only comparable
// within one ranking path. HasScore is false when the backend reported no score;
// such results rank below every scored result.
type ScoredResult struct {
	Passage  *Passage `json:"passage"`
	Score    float64  `json:"score"`
	HasScore bool     `json:"has_score"`
}

// RetrieveResponse is the response for a retrieval request.
type RetrieveResponse struct {
	Question  string   `json:"question"`
	Mode      string   `json:"mode"`
	Passages  []string `json:"passages"`
	Total     int      `json:"total"`
	QueryTime int64    `json:"query_time_ms"`
}
