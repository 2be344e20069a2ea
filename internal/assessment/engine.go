package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/pavelanni/interntest/internal/model"
	"github.com/pavelanni/interntest/internal/store"
)

// DefaultQuestionsPerTest is the number of questions drawn for a session.
const DefaultQuestionsPerTest = 20

// Status is the eligibility of a chat identity to take the test.
type Status int

const (
	// StatusNotRegistered means no roster record is linked.
	StatusNotRegistered Status = iota
	// StatusCompleted means the session is finished.
	StatusCompleted
	// StatusActive means a session is in progress.
	StatusActive
	// StatusAvailable means no session exists yet.
	StatusAvailable
)

func (s Status) String() string {
	switch s {
	case StatusNotRegistered:
		return "not_registered"
	case StatusCompleted:
		return "completed"
	case StatusActive:
		return "active"
	case StatusAvailable:
		return "available"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Eligibility is the result of CheckEligibility. User is set unless the
// status is StatusNotRegistered; Session is set for completed and active.
type Eligibility struct {
	Status  Status
	User    *model.User
	Session *model.TestSession
}

// AnswerOutcome classifies the result of RecordAnswer.
type AnswerOutcome int

const (
	OutcomeAccepted AnswerOutcome = iota
	OutcomeIgnoredStale
	OutcomeIgnoredDuplicate
	OutcomeRejected
)

func (o AnswerOutcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeIgnoredStale:
		return "ignored_stale"
	case OutcomeIgnoredDuplicate:
		return "ignored_duplicate"
	case OutcomeRejected:
		return "rejected"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// AnswerResult describes what RecordAnswer did.
type AnswerResult struct {
	Outcome      AnswerOutcome
	Correct      bool
	SelectedText string
	Finished     bool
	Score        int
	MaxScore     int
	// Reason is set for OutcomeRejected.
	Reason error
}

// ResumeOutcome classifies the result of Resume.
type ResumeOutcome int

const (
	ResumeNotRegistered ResumeOutcome = iota
	ResumeCompleted
	ResumeAwaiting
	ResumeRedisplayed
	ResumeFinalized
	ResumeUnrecoverable
)

// Notice identifies a status message sent to an identity.
type Notice string

const (
	NoticeTestStarting          Notice = "TestStarting"
	NoticeInsufficientQuestions Notice = "InsufficientQuestions"
	NoticeStartFailed           Notice = "StartFailed"
	NoticeNotRegistered         Notice = "NotRegistered"
	NoticeAlreadyCompleted      Notice = "AlreadyCompleted"
	NoticeAwaitSchedule         Notice = "AwaitSchedule"
	NoticeResumed               Notice = "Resumed"
	NoticeUnrecoverable         Notice = "Unrecoverable"
)

// QuestionCard is one question prepared for delivery.
type QuestionCard struct {
	SessionID  int64
	QuestionID int64
	Position   int
	Total      int
	Text       string
	ImagePath  string
	Options    []model.AnswerOption
}

// Notifier delivers outbound messages to an identity.
type Notifier interface {
	DeliverQuestion(ctx context.Context, chatID int64, card QuestionCard) error
	DeliverSummary(ctx context.Context, chatID int64, score, maxScore int) error
	DeliverStatus(ctx context.Context, chatID int64, notice Notice) error
}

// Reporter builds and dispatches the report of a finalized session.
type Reporter interface {
	Dispatch(ctx context.Context, sessionID int64) error
}

// Store is the persistence used by the engine.
type Store interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	SessionForUser(ctx context.Context, userID int64) (*model.TestSession, error)
	GetSession(ctx context.Context, id int64) (*model.TestSession, error)
	QuestionIDs(ctx context.Context) ([]int64, error)
	GetQuestion(ctx context.Context, id int64) (*model.Question, error)
	CreateSession(ctx context.Context, userID int64, maxScore int, start time.Time) (*model.TestSession, error)
	DeleteSession(ctx context.Context, id int64) error
	CountAnswers(ctx context.Context, sessionID int64) (int, error)
	RecordAnswer(ctx context.Context, sessionID, questionID, optionID int64) (store.AnswerRecord, error)
	FinalizeSession(ctx context.Context, sessionID int64, end time.Time) (bool, error)
	CandidatesForDay(ctx context.Context, day string) ([]model.Candidate, error)
}

// Config holds engine settings.
type Config struct {
	QuestionsPerTest int
	// Location decides which calendar day the sweep considers today.
	Location *time.Location
}

// Engine runs the test lifecycle: start, answer, resume and finalize.
type Engine struct {
	cfg      Config
	store    Store
	progress ProgressCache
	notifier Notifier
	reporter Reporter

	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
}

func New(cfg Config, st Store, progress ProgressCache, notifier Notifier, reporter Reporter) *Engine {
	if cfg.QuestionsPerTest <= 0 {
		cfg.QuestionsPerTest = DefaultQuestionsPerTest
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		progress: progress,
		notifier: notifier,
		reporter: reporter,
		now:      time.Now,
		shuffle:  rand.Shuffle,
	}
}

// CheckEligibility reports whether the identity can start a session.
func (e *Engine) CheckEligibility(ctx context.Context, telegramID int64) (Eligibility, error) {
	u, err := e.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return Eligibility{Status: StatusNotRegistered}, nil
	}
	sess, err := e.store.SessionForUser(ctx, u.ID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("get session: %w", err)
	}
	switch {
	case sess == nil:
		return Eligibility{Status: StatusAvailable, User: u}, nil
	case sess.IsCompleted:
		return Eligibility{Status: StatusCompleted, User: u, Session: sess}, nil
	default:
		return Eligibility{Status: StatusActive, User: u, Session: sess}, nil
	}
}

// StartSession draws a random question sequence, creates the session and
// delivers the first question.
func (e *Engine) StartSession(ctx context.Context, telegramID int64) (*model.TestSession, error) {
	el, err := e.CheckEligibility(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	switch el.Status {
	case StatusNotRegistered:
		return nil, ErrNotRegistered
	case StatusCompleted:
		return nil, ErrAlreadyCompleted
	case StatusActive:
		return nil, ErrAlreadyActive
	}

	ids, err := e.store.QuestionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	n := e.cfg.QuestionsPerTest
	if len(ids) < n {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientQuestions, len(ids), n)
	}
	e.shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	ids = ids[:n]

	sess, err := e.store.CreateSession(ctx, el.User.ID, n, e.now())
	if errors.Is(err, store.ErrSessionExists) {
		return nil, ErrAlreadyActive
	}
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	p := model.Progress{SessionID: sess.ID, QuestionIDs: ids}
	if err := e.progress.Set(ctx, telegramID, p); err != nil {
		// Without in-flight state the session could never be answered.
		if derr := e.store.DeleteSession(ctx, sess.ID); derr != nil {
			slog.Error("failed to remove session without progress", "session_id", sess.ID, "error", derr)
		}
		return nil, fmt.Errorf("save progress: %w", err)
	}
	slog.Info("test started", "telegram_id", telegramID, "session_id", sess.ID, "questions", n)

	e.status(ctx, telegramID, NoticeTestStarting)
	if err := e.deliver(ctx, telegramID, p); err != nil {
		slog.Error("failed to deliver first question", "telegram_id", telegramID, "error", err)
	}
	return sess, nil
}

// RecordAnswer handles an answer tap. Taps on anything but the current
// question are ignored as stale; a repeated answer is ignored as a duplicate.
func (e *Engine) RecordAnswer(ctx context.Context, telegramID, questionID, optionID int64) (AnswerResult, error) {
	log := slog.With("telegram_id", telegramID, "question_id", questionID)

	p, err := e.progress.Get(ctx, telegramID)
	if err != nil {
		return AnswerResult{}, fmt.Errorf("load progress: %w", err)
	}
	if p == nil {
		log.Warn("answer without progress")
		return AnswerResult{Outcome: OutcomeRejected, Reason: ErrUnrecoverableSession}, nil
	}
	if cur, ok := p.Current(); !ok || cur != questionID {
		log.Debug("stale answer ignored", "current_index", p.Index)
		return AnswerResult{Outcome: OutcomeIgnoredStale}, nil
	}

	rec, err := e.store.RecordAnswer(ctx, p.SessionID, questionID, optionID)
	switch {
	case errors.Is(err, store.ErrSessionClosed):
		if err := e.progress.Delete(ctx, telegramID); err != nil {
			log.Error("failed to clear progress", "error", err)
		}
		return AnswerResult{Outcome: OutcomeRejected, Reason: ErrAlreadyCompleted}, nil
	case errors.Is(err, store.ErrOptionMismatch):
		log.Warn("answer option does not match question", "option_id", optionID)
		return AnswerResult{Outcome: OutcomeRejected, Reason: err}, nil
	case err != nil:
		return AnswerResult{}, fmt.Errorf("record answer: %w", err)
	}
	if rec.Duplicate {
		log.Debug("duplicate answer ignored")
		return AnswerResult{Outcome: OutcomeIgnoredDuplicate}, nil
	}

	res := AnswerResult{
		Outcome:      OutcomeAccepted,
		Correct:      rec.Correct,
		SelectedText: rec.SelectedText,
		Score:        rec.Score,
		MaxScore:     len(p.QuestionIDs),
	}
	log.Info("answer recorded", "session_id", p.SessionID, "correct", rec.Correct)

	p.Index++
	if p.Index < len(p.QuestionIDs) {
		if err := e.progress.Set(ctx, telegramID, *p); err != nil {
			log.Error("failed to save progress", "error", err)
		}
		if err := e.deliver(ctx, telegramID, *p); err != nil {
			log.Error("failed to deliver next question", "error", err)
		}
		return res, nil
	}

	score, err := e.finish(ctx, telegramID, p.SessionID)
	if err != nil {
		return res, err
	}
	res.Finished = true
	res.Score = score
	return res, nil
}

// Resume re-displays the current question of an active session or reports
// the identity's status. With the in-flight state lost, a session with every
// question answered is finalized and anything else is unrecoverable.
func (e *Engine) Resume(ctx context.Context, telegramID int64) (ResumeOutcome, error) {
	el, err := e.CheckEligibility(ctx, telegramID)
	if err != nil {
		return 0, err
	}
	switch el.Status {
	case StatusNotRegistered:
		e.status(ctx, telegramID, NoticeNotRegistered)
		return ResumeNotRegistered, nil
	case StatusCompleted:
		e.status(ctx, telegramID, NoticeAlreadyCompleted)
		return ResumeCompleted, nil
	case StatusAvailable:
		e.status(ctx, telegramID, NoticeAwaitSchedule)
		return ResumeAwaiting, nil
	}

	sess := el.Session
	answered, err := e.store.CountAnswers(ctx, sess.ID)
	if err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}
	p, err := e.progress.Get(ctx, telegramID)
	if err != nil {
		return 0, fmt.Errorf("load progress: %w", err)
	}

	if p == nil || p.SessionID != sess.ID {
		if answered >= sess.MaxScore {
			if _, err := e.finish(ctx, telegramID, sess.ID); err != nil {
				return 0, err
			}
			return ResumeFinalized, nil
		}
		slog.Error("progress lost for active session",
			"telegram_id", telegramID, "session_id", sess.ID, "answered", answered, "max_score", sess.MaxScore)
		e.status(ctx, telegramID, NoticeUnrecoverable)
		return ResumeUnrecoverable, ErrUnrecoverableSession
	}

	if answered >= len(p.QuestionIDs) {
		if _, err := e.finish(ctx, telegramID, sess.ID); err != nil {
			return 0, err
		}
		return ResumeFinalized, nil
	}
	p.Index = answered
	card, err := e.questionCard(ctx, *p)
	if errors.Is(err, ErrUnrecoverableSession) {
		slog.Error("current question is gone", "telegram_id", telegramID, "session_id", sess.ID, "error", err)
		e.status(ctx, telegramID, NoticeUnrecoverable)
		return ResumeUnrecoverable, err
	}
	if err != nil {
		return 0, err
	}
	if err := e.progress.Set(ctx, telegramID, *p); err != nil {
		return 0, fmt.Errorf("save progress: %w", err)
	}
	e.status(ctx, telegramID, NoticeResumed)
	e.send(ctx, telegramID, card)
	return ResumeRedisplayed, nil
}

// FinalizeSession marks the session completed. It reports whether this call
// performed the transition.
func (e *Engine) FinalizeSession(ctx context.Context, sessionID int64) (bool, error) {
	return e.store.FinalizeSession(ctx, sessionID, e.now())
}

// finish finalizes the session, then dispatches the report and the summary
// when this call performed the transition. Returns the final score.
func (e *Engine) finish(ctx context.Context, telegramID, sessionID int64) (int, error) {
	done, err := e.FinalizeSession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("finalize session: %w", err)
	}
	if err := e.progress.Delete(ctx, telegramID); err != nil {
		slog.Error("failed to clear progress", "telegram_id", telegramID, "error", err)
	}
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("reload session: %w", err)
	}
	if sess == nil {
		return 0, fmt.Errorf("session %d not found", sessionID)
	}
	if !done {
		return sess.Score, nil
	}

	if err := e.reporter.Dispatch(ctx, sessionID); err != nil {
		slog.Error("report dispatch failed", "session_id", sessionID, "error", err)
	}
	if err := e.notifier.DeliverSummary(ctx, telegramID, sess.Score, sess.MaxScore); err != nil {
		slog.Error("failed to deliver summary", "telegram_id", telegramID,
			"error", fmt.Errorf("%w: %w", ErrDeliveryFailure, err))
	}
	slog.Info("test finished", "telegram_id", telegramID, "session_id", sessionID,
		"score", sess.Score, "max_score", sess.MaxScore)
	return sess.Score, nil
}

// questionCard prepares the question at the progress cursor. A question
// missing from the bank makes the session unrecoverable.
func (e *Engine) questionCard(ctx context.Context, p model.Progress) (QuestionCard, error) {
	qid, ok := p.Current()
	if !ok {
		return QuestionCard{}, fmt.Errorf("%w: cursor %d past %d questions", ErrUnrecoverableSession, p.Index, len(p.QuestionIDs))
	}
	q, err := e.store.GetQuestion(ctx, qid)
	if err != nil {
		return QuestionCard{}, fmt.Errorf("load question %d: %w", qid, err)
	}
	if q == nil {
		return QuestionCard{}, fmt.Errorf("%w: question %d no longer exists", ErrUnrecoverableSession, qid)
	}
	opts := slices.Clone(q.Options)
	e.shuffle(len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })
	return QuestionCard{
		SessionID:  p.SessionID,
		QuestionID: q.ID,
		Position:   p.Index + 1,
		Total:      len(p.QuestionIDs),
		Text:       q.Text,
		ImagePath:  q.ImagePath,
		Options:    opts,
	}, nil
}

// deliver sends the question at the progress cursor. Only a card that cannot
// be built is returned as an error; delivery failures are logged.
func (e *Engine) deliver(ctx context.Context, telegramID int64, p model.Progress) error {
	card, err := e.questionCard(ctx, p)
	if err != nil {
		return err
	}
	e.send(ctx, telegramID, card)
	return nil
}

func (e *Engine) send(ctx context.Context, telegramID int64, card QuestionCard) {
	if err := e.notifier.DeliverQuestion(ctx, telegramID, card); err != nil {
		slog.Error("failed to deliver question", "telegram_id", telegramID, "question_id", card.QuestionID,
			"error", fmt.Errorf("%w: %w", ErrDeliveryFailure, err))
	}
}

func (e *Engine) status(ctx context.Context, telegramID int64, n Notice) {
	if err := e.notifier.DeliverStatus(ctx, telegramID, n); err != nil {
		slog.Error("failed to deliver status", "telegram_id", telegramID, "notice", string(n),
			"error", fmt.Errorf("%w: %w", ErrDeliveryFailure, err))
	}
}
