package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/pavelanni/interntest/internal/assessment"
	"github.com/pavelanni/interntest/internal/i18n"
	"github.com/pavelanni/interntest/internal/model"
)

type apiCall struct {
	Method string
	Body   map[string]any
	Form   map[string]string
	File   string
}

// fakeAPI is a Bot API double that records calls.
type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
	fail  map[string]string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	api := &fakeAPI{fail: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(srv.Close)
	require.NoError(t, i18n.Init("en"))
	return api, NewClient("TOKEN", srv.URL)
}

func (a *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	call := apiCall{Method: method}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			call.Form = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				call.Form[k] = v[0]
			}
			if fh := r.MultipartForm.File["photo"]; len(fh) > 0 {
				call.File = fh[0].Filename
			}
		}
	} else {
		json.NewDecoder(r.Body).Decode(&call.Body)
	}
	a.mu.Lock()
	a.calls = append(a.calls, call)
	desc, failing := a.fail[method]
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failing {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": desc})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": 77}})
}

func (a *fakeAPI) byMethod(method string) []apiCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []apiCall
	for _, c := range a.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func TestParseAnswerData(t *testing.T) {
	tests := []struct {
		data   string
		q, o   int64
		wantOK bool
	}{
		{AnswerData(12, 345), 12, 345, true},
		{"ans:1:2", 1, 2, true},
		{"ans:1", 0, 0, false},
		{"ans:x:2", 0, 0, false},
		{"quiz:1:2", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		q, o, ok := ParseAnswerData(tt.data)
		if ok != tt.wantOK || q != tt.q || o != tt.o {
			t.Errorf("ParseAnswerData(%q) = %d, %d, %v", tt.data, q, o, ok)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	short := "one\n\ntwo"
	require.Equal(t, []string{short}, SplitMessage(short, 100))

	text := strings.Repeat("a", 6) + "\n\n" + strings.Repeat("b", 6) + "\n\n" + strings.Repeat("c", 3)
	require.Equal(t, []string{"aaaaaa", "bbbbbb\n\nccc"}, SplitMessage(text, 11))

	long := strings.Repeat("я", 25)
	chunks := SplitMessage(long, 10)
	require.Len(t, chunks, 3)
	require.Equal(t, long, strings.Join(chunks, ""))
}

func TestSplitMessageKeepsMarkupIntact(t *testing.T) {
	var b strings.Builder
	b.WriteString("<b>")
	for i := range 120 {
		if i%7 == 0 {
			b.WriteString("\n")
		}
		b.WriteString("R&amp;D ")
	}
	b.WriteString("</b> tail")
	text := b.String()

	chunks := SplitMessage(text, 200)
	require.Greater(t, len(chunks), 1)
	entity := regexp.MustCompile(`&[a-z]+;`)
	var plain strings.Builder
	for _, c := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(c), 200)
		require.Equal(t, strings.Count(c, "<b>"), strings.Count(c, "</b>"), "unbalanced chunk %q", c)
		require.Equal(t, strings.Count(c, "&"), len(entity.FindAllString(c, -1)), "broken entity in %q", c)
		plain.WriteString(strings.NewReplacer("<b>", "", "</b>", "").Replace(c))
	}
	require.Equal(t, strings.NewReplacer("<b>", "", "</b>", "").Replace(text), plain.String())

	// Without spaces the cut still avoids the middle of an entity.
	dense := strings.Repeat("&amp;", 30)
	for _, c := range SplitMessage(dense, 12) {
		require.Equal(t, strings.Count(c, "&"), len(entity.FindAllString(c, -1)), "broken entity in %q", c)
	}
}

func TestCommand(t *testing.T) {
	msg := &Message{Text: "/Start@intern_bot", Entities: []MessageEntity{{Type: "bot_command", Offset: 0, Length: 17}}}
	require.Equal(t, "/start", command(msg))
	require.Equal(t, "", command(&Message{Text: "hello"}))
}

func TestClientAPIError(t *testing.T) {
	api, c := newFakeAPI(t)
	api.fail["sendMessage"] = "Bad Request: chat not found"

	_, err := c.SendMessage(context.Background(), 1, "hi", "", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 400, apiErr.Code)
	require.Contains(t, apiErr.Error(), "chat not found")
}

func TestNotifierDeliverQuestion(t *testing.T) {
	api, c := newFakeAPI(t)
	n := NewNotifier(c, "en")
	card := assessment.QuestionCard{
		QuestionID: 5,
		Position:   2,
		Total:      20,
		Text:       "Is 1 < 2?",
		Options: []model.AnswerOption{
			{ID: 50, Text: "yes"},
			{ID: 51, Text: "no"},
			{ID: 52, Text: "maybe"},
		},
	}

	require.NoError(t, n.DeliverQuestion(context.Background(), 9, card))
	sent := api.byMethod("sendMessage")
	require.Len(t, sent, 1)
	text := sent[0].Body["text"].(string)
	require.Contains(t, text, "<b>Question 2/20</b>")
	require.Contains(t, text, "Is 1 &lt; 2?")
	require.Contains(t, text, "3. maybe")
	require.Equal(t, "HTML", sent[0].Body["parse_mode"])

	markup := sent[0].Body["reply_markup"].(map[string]any)
	rows := markup["inline_keyboard"].([]any)
	require.Len(t, rows, 2)
	first := rows[0].([]any)[0].(map[string]any)
	require.Equal(t, "Option 1", first["text"])
	require.Equal(t, "ans:5:50", first["callback_data"])
}

func TestNotifierDeliverQuestionWithImage(t *testing.T) {
	api, c := newFakeAPI(t)
	n := NewNotifier(c, "en")
	path := filepath.Join(t.TempDir(), "q_5.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))

	card := assessment.QuestionCard{QuestionID: 5, Position: 1, Total: 1, Text: "Look", ImagePath: path,
		Options: []model.AnswerOption{{ID: 1, Text: "a"}}}
	require.NoError(t, n.DeliverQuestion(context.Background(), 9, card))

	photos := api.byMethod("sendPhoto")
	require.Len(t, photos, 1)
	require.Equal(t, "q_5.png", photos[0].File)
	require.Equal(t, "9", photos[0].Form["chat_id"])
	require.Contains(t, photos[0].Form["caption"], "Look")
	require.Empty(t, api.byMethod("sendMessage"))

	// A missing file falls back to text.
	card.ImagePath = filepath.Join(t.TempDir(), "gone.png")
	require.NoError(t, n.DeliverQuestion(context.Background(), 9, card))
	require.Len(t, api.byMethod("sendMessage"), 1)
}

func TestAdminChannelSplitsLongReports(t *testing.T) {
	api, c := newFakeAPI(t)
	block := strings.Repeat("x", 3000)
	require.NoError(t, NewAdminChannel(c, -100).SendReport(context.Background(), block+"\n\n"+block))

	sent := api.byMethod("sendMessage")
	require.Len(t, sent, 2)
	require.Equal(t, float64(-100), sent[0].Body["chat_id"])
}

type fakeEngine struct {
	result  assessment.AnswerResult
	err     error
	resumed []int64
}

func (f *fakeEngine) Resume(_ context.Context, id int64) (assessment.ResumeOutcome, error) {
	f.resumed = append(f.resumed, id)
	return assessment.ResumeRedisplayed, f.err
}

func (f *fakeEngine) RecordAnswer(context.Context, int64, int64, int64) (assessment.AnswerResult, error) {
	return f.result, f.err
}

type fakeRegistrar struct {
	names map[int64]string
	pins  map[string]string
}

func (f *fakeRegistrar) Greeting(_ context.Context, id int64) (string, error) {
	if name, ok := f.names[id]; ok {
		return name, nil
	}
	return "", assessment.ErrNotRegistered
}

func (f *fakeRegistrar) Register(_ context.Context, id int64, _ string, pin string) (string, error) {
	name, ok := f.pins[pin]
	if !ok {
		return "", assessment.ErrPINNotFound
	}
	f.names[id] = name
	return name, nil
}

func textMessage(userID int64, text string) Update {
	msg := &Message{MessageID: 1, From: &User{ID: userID}, Chat: Chat{ID: userID}, Text: text}
	if strings.HasPrefix(text, "/") {
		msg.Entities = []MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}}
	}
	return Update{Message: msg}
}

func TestBotRegistrationFlow(t *testing.T) {
	api, c := newFakeAPI(t)
	reg := &fakeRegistrar{names: map[int64]string{}, pins: map[string]string{"PIN1": "Ann"}}
	bot := NewBot(c, &fakeEngine{}, reg, "en")
	ctx := context.Background()

	bot.HandleUpdate(ctx, textMessage(3, "PIN1"))
	bot.HandleUpdate(ctx, textMessage(3, "/start"))
	bot.HandleUpdate(ctx, textMessage(3, "WRONG"))
	bot.HandleUpdate(ctx, textMessage(3, " PIN1 "))
	bot.HandleUpdate(ctx, textMessage(3, "/start"))

	var texts []string
	for _, call := range api.byMethod("sendMessage") {
		texts = append(texts, call.Body["text"].(string))
	}
	require.Len(t, texts, 5)
	require.True(t, strings.HasPrefix(texts[0], "Commands:"), "text before /start gets help")
	require.Equal(t, "Hello! Please send your PIN to register.", texts[1])
	require.Equal(t, "PIN not found. Please check it and try again.", texts[2])
	require.True(t, strings.HasPrefix(texts[3], "Thank you, Ann!"))
	require.Equal(t, "Hello, Ann! You are already registered.", texts[4])
}

func TestBotStartTestResumes(t *testing.T) {
	api, c := newFakeAPI(t)
	eng := &fakeEngine{}
	bot := NewBot(c, eng, &fakeRegistrar{}, "en")

	bot.HandleUpdate(context.Background(), textMessage(8, "/start_test"))
	require.Equal(t, []int64{8}, eng.resumed)
	require.Empty(t, api.byMethod("sendMessage"))

	eng.err = errors.New("db down")
	bot.HandleUpdate(context.Background(), textMessage(8, "/start_test"))
	sent := api.byMethod("sendMessage")
	require.Len(t, sent, 1)
	require.Equal(t, "Something went wrong. Please try again later.", sent[0].Body["text"])
}

func TestBotAnswerCallback(t *testing.T) {
	tests := []struct {
		name   string
		result assessment.AnswerResult
		want   string
		alert  bool
	}{
		{"accepted", assessment.AnswerResult{Outcome: assessment.OutcomeAccepted, SelectedText: "yes"},
			"Your answer was accepted: yes", false},
		{"duplicate", assessment.AnswerResult{Outcome: assessment.OutcomeIgnoredDuplicate},
			"An answer to this question was already accepted.", false},
		{"lost", assessment.AnswerResult{Outcome: assessment.OutcomeRejected, Reason: assessment.ErrUnrecoverableSession},
			"Your test data was lost. Please contact the administrator.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, c := newFakeAPI(t)
			bot := NewBot(c, &fakeEngine{result: tt.result}, &fakeRegistrar{}, "en")
			bot.HandleUpdate(context.Background(), Update{CallbackQuery: &CallbackQuery{
				ID:      "cb1",
				From:    User{ID: 4},
				Message: &Message{MessageID: 10, Chat: Chat{ID: 4}},
				Data:    AnswerData(1, 2),
			}})

			answers := api.byMethod("answerCallbackQuery")
			require.Len(t, answers, 1)
			require.Equal(t, tt.want, answers[0].Body["text"])
			if tt.alert {
				require.Equal(t, true, answers[0].Body["show_alert"])
			}
			require.Len(t, api.byMethod("editMessageReplyMarkup"), 1)
		})
	}
}
