package models

// Prompt is the client-visible view of a candidate prompt in the pool.
// Vote membership stays inside the voting engine; only the count is exposed.
type Prompt struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	SubmitterID   string `json:"submitter_id"`
	SubmitterName string `json:"submitter_name"`
	Votes         int    `json:"votes"`
	SubmittedAt   int64  `json:"submitted_at"` // Unix ms
}
