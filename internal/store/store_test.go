package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/interntest/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func day(t *testing.T, v string) time.Time {
	t.Helper()
	d, err := time.Parse(model.DateLayout, v)
	if err != nil {
		t.Fatalf("parse day %q: %v", v, err)
	}
	return d
}

func seedIntern(t *testing.T, s *Store, pin, name, eligible string) {
	t.Helper()
	_, err := s.UpsertInterns(context.Background(), []model.InternImport{
		{PIN: pin, FullName: name, EligibilityDay: day(t, eligible)},
	})
	if err != nil {
		t.Fatalf("seedIntern: %v", err)
	}
}

func seedBank(t *testing.T, s *Store, n int) []int64 {
	t.Helper()
	var bank []model.QuestionImport
	for i := 0; i < n; i++ {
		bank = append(bank, model.QuestionImport{
			Text: "question",
			Options: []model.OptionImport{
				{Text: "right", IsCorrect: true},
				{Text: "wrong"},
			},
		})
	}
	if _, err := s.ReplaceQuestionBank(context.Background(), bank); err != nil {
		t.Fatalf("seedBank: %v", err)
	}
	ids, err := s.QuestionIDs(context.Background())
	if err != nil {
		t.Fatalf("QuestionIDs: %v", err)
	}
	return ids
}

// seedSession registers a user for a fresh intern and starts a session.
func seedSession(t *testing.T, s *Store, telegramID int64, pin string) *model.TestSession {
	t.Helper()
	ctx := context.Background()
	seedIntern(t, s, pin, "Intern "+pin, "2026-10-18")
	if _, err := s.RegisterUser(ctx, telegramID, "user", pin); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	u, err := s.GetUserByTelegramID(ctx, telegramID)
	if err != nil || u == nil {
		t.Fatalf("GetUserByTelegramID: %v %v", u, err)
	}
	sess, err := s.CreateSession(ctx, u.ID, 2, time.Now())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func options(t *testing.T, s *Store, questionID int64) (right, wrong int64) {
	t.Helper()
	q, err := s.GetQuestion(context.Background(), questionID)
	if err != nil || q == nil {
		t.Fatalf("GetQuestion(%d): %v %v", questionID, q, err)
	}
	for _, o := range q.Options {
		if o.IsCorrect {
			right = o.ID
		} else {
			wrong = o.ID
		}
	}
	return right, wrong
}

func TestUpsertInternsCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedIntern(t, s, "AbC123", "Old Name", "2026-10-18")
	linked, err := s.RegisterUser(ctx, 42, "user", "abc123")
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	seedIntern(t, s, "abc123", "New Name", "2026-10-20")

	count, err := s.InternCount(ctx)
	if err != nil {
		t.Fatalf("InternCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 intern, got %d", count)
	}

	in, err := s.GetInternByPIN(ctx, "  ABC123 ")
	if err != nil {
		t.Fatalf("GetInternByPIN: %v", err)
	}
	if in == nil {
		t.Fatal("expected intern, got nil")
	}
	if in.FullName != "New Name" || in.EligibilityDay != "2026-10-20" {
		t.Errorf("unexpected intern %+v", in)
	}
	if in.ID != linked.ID {
		t.Errorf("re-import changed intern id from %d to %d", linked.ID, in.ID)
	}
	u, err := s.GetUserByTelegramID(ctx, 42)
	if err != nil || u == nil {
		t.Fatalf("GetUserByTelegramID: %v %v", u, err)
	}
	if u.InternID != linked.ID {
		t.Errorf("re-import moved user link to intern %d, want %d", u.InternID, linked.ID)
	}

	missing, err := s.GetInternByPIN(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for unknown pin, got %v, %v", missing, err)
	}
}

func TestRegisterUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedIntern(t, s, "PIN1", "Alice", "2026-10-18")
	seedIntern(t, s, "PIN2", "Bob", "2026-10-18")

	in, err := s.RegisterUser(ctx, 100, "alice", "pin1")
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if in.FullName != "Alice" {
		t.Errorf("expected Alice, got %q", in.FullName)
	}

	tests := []struct {
		name       string
		telegramID int64
		pin        string
		want       error
	}{
		{"same account again", 100, "PIN2", ErrAlreadyRegistered},
		{"unknown pin", 200, "PIN9", ErrPINNotFound},
		{"pin linked elsewhere", 200, "PIN1", ErrPINTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.RegisterUser(ctx, tt.telegramID, "", tt.pin)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	// A roster refresh keeps the link.
	seedIntern(t, s, "pin1", "Alice Renamed", "2026-10-19")
	u, err := s.GetUserByTelegramID(ctx, 100)
	if err != nil || u == nil {
		t.Fatalf("GetUserByTelegramID: %v %v", u, err)
	}
	linked, err := s.GetIntern(ctx, u.InternID)
	if err != nil {
		t.Fatalf("GetIntern: %v", err)
	}
	if linked.FullName != "Alice Renamed" {
		t.Errorf("expected link to survive upsert, got %+v", linked)
	}
}

func TestCandidatesForDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedIntern(t, s, "A", "Registered", "2026-10-18")
	seedIntern(t, s, "B", "Unregistered", "2026-10-18")
	seedIntern(t, s, "C", "Tomorrow", "2026-10-19")
	if _, err := s.RegisterUser(ctx, 1, "", "a"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	got, err := s.CandidatesForDay(ctx, "2026-10-18")
	if err != nil {
		t.Fatalf("CandidatesForDay: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].User == nil || got[0].User.TelegramID != 1 {
		t.Errorf("expected first candidate linked to telegram 1, got %+v", got[0].User)
	}
	if got[1].User != nil {
		t.Errorf("expected second candidate unlinked, got %+v", got[1].User)
	}
}

func TestCreateSessionOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	sess := seedSession(t, s, 1, "P")

	_, err := s.CreateSession(context.Background(), sess.UserID, 2, time.Now())
	if !errors.Is(err, ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}
}

func TestRecordAnswer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedBank(t, s, 2)
	sess := seedSession(t, s, 1, "P")
	right, wrong := options(t, s, ids[0])
	_, otherWrong := options(t, s, ids[1])

	rec, err := s.RecordAnswer(ctx, sess.ID, ids[0], right)
	if err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if rec.Duplicate || !rec.Correct || rec.Score != 1 || rec.SelectedText != "right" {
		t.Errorf("unexpected record %+v", rec)
	}

	rec, err = s.RecordAnswer(ctx, sess.ID, ids[0], wrong)
	if err != nil {
		t.Fatalf("RecordAnswer duplicate: %v", err)
	}
	if !rec.Duplicate {
		t.Errorf("expected duplicate, got %+v", rec)
	}

	_, err = s.RecordAnswer(ctx, sess.ID, ids[1], right)
	if !errors.Is(err, ErrOptionMismatch) {
		t.Errorf("expected ErrOptionMismatch, got %v", err)
	}

	rec, err = s.RecordAnswer(ctx, sess.ID, ids[1], otherWrong)
	if err != nil {
		t.Fatalf("RecordAnswer second: %v", err)
	}
	if rec.Correct || rec.Score != 1 {
		t.Errorf("unexpected record %+v", rec)
	}

	n, err := s.CountAnswers(ctx, sess.ID)
	if err != nil {
		t.Fatalf("CountAnswers: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 answers, got %d", n)
	}

	if _, err := s.FinalizeSession(ctx, sess.ID, time.Now()); err != nil {
		t.Fatalf("FinalizeSession: %v", err)
	}
	_, err = s.RecordAnswer(ctx, sess.ID, ids[1], otherWrong)
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed after finalize, got %v", err)
	}
}

func TestRecordAnswerConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedBank(t, s, 2)
	sess := seedSession(t, s, 1, "P")
	right, _ := options(t, s, ids[0])

	var wg sync.WaitGroup
	results := make([]AnswerRecord, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.RecordAnswer(ctx, sess.ID, ids[0], right)
		}()
	}
	wg.Wait()

	dups := 0
	for i := range 2 {
		if errs[i] != nil {
			t.Fatalf("RecordAnswer %d: %v", i, errs[i])
		}
		if results[i].Duplicate {
			dups++
		}
	}
	if dups != 1 {
		t.Errorf("expected exactly one duplicate, got %d", dups)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Score != 1 {
		t.Errorf("expected score 1, got %d", got.Score)
	}
}

func TestFinalizeSessionIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, 1, "P")

	first := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	done, err := s.FinalizeSession(ctx, sess.ID, first)
	if err != nil || !done {
		t.Fatalf("first FinalizeSession: %v %v", done, err)
	}
	done, err = s.FinalizeSession(ctx, sess.ID, time.Now())
	if err != nil {
		t.Fatalf("second FinalizeSession: %v", err)
	}
	if done {
		t.Error("expected second finalize to be a no-op")
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !got.IsCompleted || got.EndTime == nil || !got.EndTime.Equal(first) {
		t.Errorf("expected completed session ending at %v, got %+v", first, got)
	}
}

func TestFinalizeSessionConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, 1, "P")

	const callers = 8
	base := time.Now().UTC().Truncate(time.Second)
	var wg sync.WaitGroup
	done := make([]bool, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done[i], errs[i] = s.FinalizeSession(ctx, sess.ID, base.Add(time.Duration(i)*time.Minute))
		}()
	}
	wg.Wait()

	winner := -1
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("FinalizeSession %d: %v", i, errs[i])
		}
		if done[i] {
			if winner >= 0 {
				t.Fatalf("callers %d and %d both finalized", winner, i)
			}
			winner = i
		}
	}
	if winner < 0 {
		t.Fatal("no caller finalized the session")
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	want := base.Add(time.Duration(winner) * time.Minute)
	if !got.IsCompleted || got.EndTime == nil || !got.EndTime.Equal(want) {
		t.Errorf("expected end time %v from caller %d, got %+v", want, winner, got)
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedBank(t, s, 2)
	sess := seedSession(t, s, 1, "P")
	right, _ := options(t, s, ids[0])
	if _, err := s.RecordAnswer(ctx, sess.ID, ids[0], right); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	got, err := s.SessionForUser(ctx, sess.UserID)
	if err != nil || got != nil {
		t.Fatalf("expected no session, got %+v %v", got, err)
	}
	n, err := s.CountAnswers(ctx, sess.ID)
	if err != nil || n != 0 {
		t.Errorf("expected answers removed, got %d %v", n, err)
	}
	if _, err := s.CreateSession(ctx, sess.UserID, 2, time.Now()); err != nil {
		t.Errorf("CreateSession after delete: %v", err)
	}
}

func TestReplaceQuestionBankCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedBank(t, s, 3)
	sess := seedSession(t, s, 1, "P")
	right, _ := options(t, s, ids[0])
	if _, err := s.RecordAnswer(ctx, sess.ID, ids[0], right); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	n, err := s.ReplaceQuestionBank(ctx, []model.QuestionImport{
		{Text: "only", Options: []model.OptionImport{{Text: "a", IsCorrect: true}}},
	})
	if err != nil {
		t.Fatalf("ReplaceQuestionBank: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 imported, got %d", n)
	}

	count, err := s.QuestionCount(ctx)
	if err != nil || count != 1 {
		t.Errorf("expected 1 question, got %d (%v)", count, err)
	}
	answers, err := s.CountAnswers(ctx, sess.ID)
	if err != nil || answers != 0 {
		t.Errorf("expected answers removed, got %d (%v)", answers, err)
	}
	got, err := s.GetSession(ctx, sess.ID)
	if err != nil || got == nil {
		t.Fatalf("expected session to survive, got %v (%v)", got, err)
	}
	if old, _ := s.GetQuestion(ctx, ids[0]); old != nil {
		t.Errorf("expected old question gone, got %+v", old)
	}
}

func TestAnswerDetailsRequeriesCorrectOption(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedBank(t, s, 1)
	sess := seedSession(t, s, 1, "P")
	right, wrong := options(t, s, ids[0])
	if _, err := s.RecordAnswer(ctx, sess.ID, ids[0], wrong); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	details, err := s.AnswerDetails(ctx, sess.ID)
	if err != nil {
		t.Fatalf("AnswerDetails: %v", err)
	}
	if len(details) != 1 || details[0].CorrectOption != "right" || details[0].SelectedText != "wrong" {
		t.Fatalf("unexpected details %+v", details)
	}

	// Correctness edited after the answer shows up in the next rendering.
	if _, err := s.db.Exec(`UPDATE answer_options SET is_correct = ? WHERE id = ?`, false, right); err != nil {
		t.Fatalf("clear correct flag: %v", err)
	}
	details, err = s.AnswerDetails(ctx, sess.ID)
	if err != nil {
		t.Fatalf("AnswerDetails: %v", err)
	}
	if details[0].CorrectOption != "" {
		t.Errorf("expected no correct option, got %q", details[0].CorrectOption)
	}
	if details[0].IsCorrect {
		t.Error("stored correctness must not change")
	}
}

func TestProgressRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.LoadProgress(ctx, 7)
	if err != nil || p != nil {
		t.Fatalf("expected nil progress, got %v (%v)", p, err)
	}

	want := model.Progress{SessionID: 3, QuestionIDs: []int64{5, 2, 9}, Index: 1}
	if err := s.SaveProgress(ctx, 7, want); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	want.Index = 2
	if err := s.SaveProgress(ctx, 7, want); err != nil {
		t.Fatalf("SaveProgress update: %v", err)
	}
	got, err := s.LoadProgress(ctx, 7)
	if err != nil {
		t.Fatalf("LoadProgress: %v", err)
	}
	if got.SessionID != 3 || got.Index != 2 || len(got.QuestionIDs) != 3 || got.QuestionIDs[2] != 9 {
		t.Errorf("unexpected progress %+v", got)
	}

	if err := s.DeleteProgress(ctx, 7); err != nil {
		t.Fatalf("DeleteProgress: %v", err)
	}
	if got, _ := s.LoadProgress(ctx, 7); got != nil {
		t.Errorf("expected progress deleted, got %+v", got)
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetMetadata(ctx, MetaQuestionsRevision)
	if err != nil || v != "" {
		t.Fatalf("expected empty metadata, got %q (%v)", v, err)
	}
	for _, rev := range []string{"r1", "r2"} {
		if err := s.SetMetadata(ctx, MetaQuestionsRevision, rev); err != nil {
			t.Fatalf("SetMetadata: %v", err)
		}
	}
	v, err = s.GetMetadata(ctx, MetaQuestionsRevision)
	if err != nil || v != "r2" {
		t.Errorf("expected r2, got %q (%v)", v, err)
	}
}

func TestExportAllSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedBank(t, s, 1)
	sess := seedSession(t, s, 42, "P")
	right, _ := options(t, s, ids[0])
	if _, err := s.RecordAnswer(ctx, sess.ID, ids[0], right); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	export, err := s.ExportAllSessions(ctx)
	if err != nil {
		t.Fatalf("ExportAllSessions: %v", err)
	}
	if len(export.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(export.Results))
	}
	r := export.Results[0]
	if r.TelegramID != 42 || r.PIN != "P" || r.Score != 1 || len(r.Answers) != 1 || !r.Answers[0].Correct {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestRebind(t *testing.T) {
	s := &Store{driver: DriverPostgres}
	got := s.rebind(`SELECT a FROM t WHERE x = ? AND y = ?`)
	if got != `SELECT a FROM t WHERE x = $1 AND y = $2` {
		t.Errorf("rebind = %q", got)
	}
	s.driver = DriverSQLite
	if got := s.rebind(`x = ?`); got != `x = ?` {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestPINKey(t *testing.T) {
	tests := []struct{ a, b string }{
		{"AbC", "abc"},
		{" pin42 ", "PIN42"},
		{"ІВАН", "іван"},
	}
	for _, tt := range tests {
		if PINKey(tt.a) != PINKey(tt.b) {
			t.Errorf("PINKey(%q) != PINKey(%q)", tt.a, tt.b)
		}
	}
}
