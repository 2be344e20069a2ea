// Package report renders session results for the admin chat and the report document.
package report

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	"github.com/pavelanni/interntest/internal/i18n"
	"github.com/pavelanni/interntest/internal/model"
)

// ErrSessionNotFound is returned by Build for an unknown session.
var ErrSessionNotFound = errors.New("session not found")

const finishedLayout = "02.01.2006 15:04:05"

// Source is the data needed to build a report.
type Source interface {
	GetSession(ctx context.Context, id int64) (*model.TestSession, error)
	SessionParticipant(ctx context.Context, sessionID int64) (*model.User, *model.Intern, error)
	AnswerDetails(ctx context.Context, sessionID int64) ([]model.AnswerDetail, error)
}

// Report is the result of one session.
type Report struct {
	SessionID  int64
	FullName   string
	TelegramID int64
	Score      int
	MaxScore   int
	Elapsed    time.Duration
	HasElapsed bool
	FinishedAt *time.Time
	Answers    []model.AnswerDetail
}

// Percent returns the score as a percentage rounded to two decimals.
func (r *Report) Percent() float64 {
	if r.MaxScore == 0 {
		return 0
	}
	return math.Round(float64(r.Score)/float64(r.MaxScore)*10000) / 100
}

// Build loads a session and its answers. The correct option of every
// question is read at call time.
func Build(ctx context.Context, src Source, sessionID int64) (*Report, error) {
	sess, err := src.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}
	u, in, err := src.SessionParticipant(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	answers, err := src.AnswerDetails(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get answers: %w", err)
	}

	r := &Report{
		SessionID:  sess.ID,
		Score:      sess.Score,
		MaxScore:   sess.MaxScore,
		FinishedAt: sess.EndTime,
		Answers:    answers,
	}
	r.Elapsed, r.HasElapsed = sess.Elapsed()
	if u != nil {
		r.TelegramID = u.TelegramID
	}
	if in != nil {
		r.FullName = in.FullName
	}
	return r, nil
}

type lines struct {
	b strings.Builder
}

func (l *lines) add(s string) {
	l.b.WriteString(s)
	l.b.WriteByte('\n')
}

func (l *lines) blank() {
	l.b.WriteByte('\n')
}

func header(ctx context.Context, r *Report, loc *time.Location, esc func(string) string) []string {
	out := []string{
		i18n.Td(ctx, "ReportIntern", map[string]any{"Name": esc(r.FullName)}),
		i18n.Td(ctx, "ReportTelegramID", map[string]any{"ID": r.TelegramID}),
		i18n.Td(ctx, "ReportScore", map[string]any{
			"Score":   r.Score,
			"Max":     r.MaxScore,
			"Percent": fmt.Sprintf("%.2f", r.Percent()),
		}),
	}
	if r.HasElapsed {
		out = append(out, i18n.Td(ctx, "ReportDuration", map[string]any{
			"Minutes": int(r.Elapsed / time.Minute),
			"Seconds": int(r.Elapsed % time.Minute / time.Second),
		}))
	} else {
		out = append(out, i18n.T(ctx, "ReportDurationUnknown"))
	}
	if r.FinishedAt != nil {
		out = append(out, i18n.Td(ctx, "ReportFinished", map[string]any{
			"At": r.FinishedAt.In(loc).Format(finishedLayout),
		}))
	}
	return out
}

func correctText(a model.AnswerDetail) string {
	if a.CorrectOption == "" {
		return "N/A"
	}
	return a.CorrectOption
}

// RenderChat renders the report as Telegram HTML. Blocks are separated by
// blank lines so the text can be split between messages.
func RenderChat(ctx context.Context, r *Report, loc *time.Location) string {
	var l lines
	l.add("<b>" + i18n.T(ctx, "ReportTitle") + "</b>")
	for _, h := range header(ctx, r, loc, html.EscapeString) {
		l.add(h)
	}
	l.blank()
	l.add("<b>" + i18n.T(ctx, "ReportAnswers") + "</b> " + i18n.Tp(ctx, "AnswerCount", len(r.Answers)))
	for i, a := range r.Answers {
		l.blank()
		mark, verdict := "❌", i18n.T(ctx, "ReportWrong")
		if a.IsCorrect {
			mark, verdict = "✅", i18n.T(ctx, "ReportRight")
		}
		l.add(mark + " <b>" + i18n.Td(ctx, "ReportQuestion", map[string]any{
			"N": i + 1, "Text": html.EscapeString(a.QuestionText),
		}) + "</b>")
		l.add(i18n.Td(ctx, "ReportSelected", map[string]any{"Text": html.EscapeString(a.SelectedText)}) +
			" (" + verdict + ")")
		l.add(i18n.Td(ctx, "ReportCorrectOption", map[string]any{"Text": html.EscapeString(correctText(a))}))
	}
	return strings.TrimRight(l.b.String(), "\n")
}

// RenderDocument renders the report as plain text for the report document.
func RenderDocument(ctx context.Context, r *Report, loc *time.Location) string {
	var l lines
	sep := strings.Repeat("=", 40)
	l.add(sep)
	l.add(i18n.T(ctx, "ReportTitle"))
	l.add(sep)
	for _, h := range header(ctx, r, loc, func(s string) string { return s }) {
		l.add(h)
	}
	l.blank()
	l.add(i18n.T(ctx, "ReportAnswers") + " " + i18n.Tp(ctx, "AnswerCount", len(r.Answers)))
	for i, a := range r.Answers {
		verdict := i18n.T(ctx, "ReportWrong")
		if a.IsCorrect {
			verdict = i18n.T(ctx, "ReportRight")
		}
		l.blank()
		l.add(i18n.Td(ctx, "ReportQuestion", map[string]any{"N": i + 1, "Text": a.QuestionText}))
		l.add(i18n.Td(ctx, "ReportSelected", map[string]any{"Text": a.SelectedText}) + " [" + verdict + "]")
		l.add(i18n.Td(ctx, "ReportCorrectOption", map[string]any{"Text": correctText(a)}))
	}
	l.blank()
	l.add(i18n.T(ctx, "ReportEnd"))
	l.blank()
	return l.b.String()
}
