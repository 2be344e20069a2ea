package report

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pavelanni/interntest/internal/i18n"
	"github.com/pavelanni/interntest/internal/model"
)

type fakeSource struct {
	sess    *model.TestSession
	intern  *model.Intern
	answers []model.AnswerDetail
}

func (f *fakeSource) GetSession(_ context.Context, id int64) (*model.TestSession, error) {
	if f.sess == nil || f.sess.ID != id {
		return nil, nil
	}
	return f.sess, nil
}

func (f *fakeSource) SessionParticipant(context.Context, int64) (*model.User, *model.Intern, error) {
	return &model.User{TelegramID: 555}, f.intern, nil
}

func (f *fakeSource) AnswerDetails(context.Context, int64) ([]model.AnswerDetail, error) {
	return f.answers, nil
}

func newSource() *fakeSource {
	start := time.Date(2026, 10, 18, 13, 1, 0, 0, time.UTC)
	end := start.Add(7*time.Minute + 5*time.Second)
	return &fakeSource{
		sess:   &model.TestSession{ID: 9, StartTime: start, EndTime: &end, Score: 2, MaxScore: 3, IsCompleted: true},
		intern: &model.Intern{FullName: "Ann <Admin>"},
		answers: []model.AnswerDetail{
			{QuestionText: "Use <b> tags?", SelectedText: "yes", IsCorrect: true, CorrectOption: "yes"},
			{QuestionText: "Second", SelectedText: "a", IsCorrect: false, CorrectOption: "b"},
			{QuestionText: "Third", SelectedText: "c", IsCorrect: true},
		},
	}
}

func enContext(t *testing.T) context.Context {
	t.Helper()
	require.NoError(t, i18n.Init("en"))
	return i18n.WithLocalizer(context.Background(), i18n.NewLocalizer("en"))
}

func TestBuild(t *testing.T) {
	ctx := enContext(t)
	r, err := Build(ctx, newSource(), 9)
	require.NoError(t, err)
	require.Equal(t, "Ann <Admin>", r.FullName)
	require.Equal(t, int64(555), r.TelegramID)
	require.True(t, r.HasElapsed)
	require.Equal(t, 7*time.Minute+5*time.Second, r.Elapsed)
	require.InDelta(t, 66.67, r.Percent(), 0.0001)

	_, err = Build(ctx, newSource(), 10)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRenderChat(t *testing.T) {
	ctx := enContext(t)
	r, err := Build(ctx, newSource(), 9)
	require.NoError(t, err)

	out := RenderChat(ctx, r, time.UTC)
	require.Contains(t, out, "Intern: Ann &lt;Admin&gt;")
	require.Contains(t, out, "Score: 2/3 (66.67%)")
	require.Contains(t, out, "Time taken: 7 min 5 sec")
	require.Contains(t, out, "Finished: 18.10.2026 13:08:05")
	require.Contains(t, out, "✅ <b>Question 1: Use &lt;b&gt; tags?</b>")
	require.Contains(t, out, "❌ <b>Question 2: Second</b>")
	require.Contains(t, out, "Correct answer: N/A")
	require.Contains(t, out, "3 answers")
}

func TestRenderDocumentWithoutEndTime(t *testing.T) {
	ctx := enContext(t)
	src := newSource()
	src.sess.EndTime = nil
	r, err := Build(ctx, src, 9)
	require.NoError(t, err)

	out := RenderDocument(ctx, r, time.UTC)
	require.Contains(t, out, "Intern: Ann <Admin>")
	require.Contains(t, out, "Time taken: —")
	require.NotContains(t, out, "Finished:")
	require.Contains(t, out, "Intern's answer: a [Incorrect]")
	require.True(t, strings.HasSuffix(out, "--- End of report ---\n\n"))
}

type fakeChannel struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeChannel) SendReport(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.err
}

func (f *fakeChannel) AppendText(ctx context.Context, text string) error {
	return f.SendReport(ctx, text)
}

func TestDispatchChannelsAreIndependent(t *testing.T) {
	ctx := enContext(t)
	chat := &fakeChannel{err: errors.New("chat down")}
	doc := &fakeChannel{}

	err := New(newSource(), chat, doc, time.UTC).Dispatch(ctx, 9)
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat down")
	require.Len(t, chat.texts, 1)
	require.Len(t, doc.texts, 1)
	require.Contains(t, doc.texts[0], "--- End of report ---")

	chat.err = nil
	doc.err = errors.New("docs quota")
	err = New(newSource(), chat, doc, time.UTC).Dispatch(ctx, 9)
	require.ErrorContains(t, err, "docs quota")
	require.Len(t, chat.texts, 2)
}

func TestDispatchUnknownSession(t *testing.T) {
	ctx := enContext(t)
	chat := &fakeChannel{}
	err := New(newSource(), chat, nil, time.UTC).Dispatch(ctx, 404)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Empty(t, chat.texts)
}
