package model

import (
	"time"
)

// DateLayout is the layout used for roster eligibility dates.
const DateLayout = "2006-01-02"

// Intern is a roster record imported from the external sheet.
type Intern struct {
	ID             int64
	PIN            string
	FullName       string
	EligibilityDay string // DateLayout in the configured time zone
}

// User links a chat identity to exactly one roster record.
type User struct {
	ID         int64
	TelegramID int64
	Username   string
	InternID   int64
	CreatedAt  time.Time
}

// Question is a multiple-choice question from the bank.
type Question struct {
	ID        int64
	Text      string
	ImagePath string
	Options   []AnswerOption
}

// CorrectOption returns the first option flagged as correct, or nil.
func (q *Question) CorrectOption() *AnswerOption {
	for i := range q.Options {
		if q.Options[i].IsCorrect {
			return &q.Options[i]
		}
	}
	return nil
}

// AnswerOption belongs to exactly one question.
type AnswerOption struct {
	ID         int64
	QuestionID int64
	Text       string
	IsCorrect  bool
}

// TestSession is one attempt of a user. A user has at most one.
type TestSession struct {
	ID          int64
	UserID      int64
	StartTime   time.Time
	EndTime     *time.Time
	Score       int
	MaxScore    int
	IsCompleted bool
}

// Elapsed returns the duration of a completed session.
func (s *TestSession) Elapsed() (time.Duration, bool) {
	if s.EndTime == nil {
		return 0, false
	}
	return s.EndTime.Sub(s.StartTime), true
}

// UserAnswer records the option chosen for a question within a session.
type UserAnswer struct {
	ID               int64
	SessionID        int64
	QuestionID       int64
	SelectedOptionID int64
	IsCorrect        bool
	AnsweredAt       time.Time
}

// AnswerDetail joins an answer with its question and options for reporting.
type AnswerDetail struct {
	QuestionID    int64
	QuestionText  string
	SelectedText  string
	IsCorrect     bool
	CorrectOption string // empty when the question has no correct option
}

// Candidate is a roster record whose eligibility day matched, with its linked user if any.
type Candidate struct {
	Intern Intern
	User   *User
}

// Progress is the in-flight state of an active session.
type Progress struct {
	SessionID   int64   `json:"session_id"`
	QuestionIDs []int64 `json:"question_ids"`
	Index       int     `json:"index"`
}

// Current returns the question ID at the cursor.
func (p *Progress) Current() (int64, bool) {
	if p.Index < 0 || p.Index >= len(p.QuestionIDs) {
		return 0, false
	}
	return p.QuestionIDs[p.Index], true
}

// InternImport is a roster row produced by an importer source.
type InternImport struct {
	PIN            string    `validate:"required,max=64"`
	FullName       string    `validate:"required,max=256"`
	EligibilityDay time.Time `validate:"required"`
}

// QuestionImport is one question produced by an importer source.
type QuestionImport struct {
	Text      string `validate:"required"`
	ImagePath string
	Options   []OptionImport `validate:"required,min=1,dive"`
}

// OptionImport is one answer option of a QuestionImport.
type OptionImport struct {
	Text      string `validate:"required"`
	IsCorrect bool
}

// QuestionBank is a full replacement set of questions.
type QuestionBank struct {
	Revision  string
	Questions []QuestionImport
}
