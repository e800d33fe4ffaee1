package types

import "time"

// ReportRecord is an archived research report.
// It is produced by the research pipeline and persisted by the report store.
type ReportRecord struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Brief       string    `json:"brief"`
	Report      string    `json:"report"`
	Termination string    `json:"termination"`
	Iterations  int       `json:"iterations"`
	Degraded    bool      `json:"degraded"`
	NotesCount  int       `json:"notes_count"`
	CreatedAt   time.Time `json:"created_at"`
}
