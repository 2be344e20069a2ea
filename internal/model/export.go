package model

import "time"

// ResultsExport is the top-level JSON structure for test result export.
type ResultsExport struct {
	ExportedAt time.Time      `json:"exported_at"`
	Revision   string         `json:"questions_revision"`
	Results    []InternResult `json:"results"`
}

// InternResult holds one intern's session data for export.
type InternResult struct {
	SessionID  int64          `json:"session_id"`
	FullName   string         `json:"full_name"`
	PIN        string         `json:"pin"`
	TelegramID int64          `json:"telegram_id"`
	Completed  bool           `json:"completed"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Score      int            `json:"score"`
	MaxScore   int            `json:"max_score"`
	Answers    []AnswerResult `json:"answers"`
}

// AnswerResult holds per-question data for export.
type AnswerResult struct {
	Question      string `json:"question"`
	Selected      string `json:"selected"`
	Correct       bool   `json:"correct"`
	CorrectOption string `json:"correct_option,omitempty"`
}

// SessionSummary is a row of the admin session listing.
type SessionSummary struct {
	SessionID  int64      `json:"session_id"`
	FullName   string     `json:"full_name"`
	TelegramID int64      `json:"telegram_id"`
	Completed  bool       `json:"completed"`
	Score      int        `json:"score"`
	MaxScore   int        `json:"max_score"`
	Answered   int        `json:"answered"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
