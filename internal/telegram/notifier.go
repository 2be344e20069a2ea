package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"

	"github.com/pavelanni/interntest/internal/assessment"
	"github.com/pavelanni/interntest/internal/i18n"
)

// Telegram size limits.
const (
	maxMessageLen = 4096
	maxCaptionLen = 1024
)

// Notifier delivers questions, summaries and status notices to interns.
type Notifier struct {
	client *Client
	loc    *goi18n.Localizer
}

func NewNotifier(client *Client, lang string) *Notifier {
	return &Notifier{client: client, loc: i18n.NewLocalizer(lang)}
}

func (n *Notifier) localize(ctx context.Context) context.Context {
	return i18n.WithLocalizer(ctx, n.loc)
}

// QuestionText renders a question card as Telegram HTML.
func QuestionText(ctx context.Context, card assessment.QuestionCard) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(i18n.Td(ctx, "QuestionHeader", map[string]any{"Position": card.Position, "Total": card.Total}))
	b.WriteString("</b>\n\n")
	b.WriteString(html.EscapeString(card.Text))
	b.WriteString("\n\n")
	b.WriteString(i18n.T(ctx, "ChooseOption"))
	for i, o := range card.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, html.EscapeString(o.Text))
	}
	return b.String()
}

// DeliverQuestion sends the card with its answer keyboard, as a photo when
// the question has an image on disk.
func (n *Notifier) DeliverQuestion(ctx context.Context, chatID int64, card assessment.QuestionCard) error {
	ctx = n.localize(ctx)
	text := QuestionText(ctx, card)
	kb := AnswerKeyboard(ctx, card.QuestionID, card.Options)

	if card.ImagePath != "" {
		if _, err := os.Stat(card.ImagePath); err == nil {
			if utf8.RuneCountInString(text) <= maxCaptionLen {
				_, err := n.client.SendPhoto(ctx, chatID, card.ImagePath, text, ParseModeHTML, kb)
				return err
			}
			if _, err := n.client.SendPhoto(ctx, chatID, card.ImagePath, "", "", nil); err != nil {
				return err
			}
		} else {
			slog.Warn("question image missing", "question_id", card.QuestionID, "path", card.ImagePath)
		}
	}
	_, err := n.client.SendMessage(ctx, chatID, text, ParseModeHTML, kb)
	return err
}

func (n *Notifier) DeliverSummary(ctx context.Context, chatID int64, score, maxScore int) error {
	ctx = n.localize(ctx)
	_, err := n.client.SendMessage(ctx, chatID,
		i18n.Td(ctx, "Summary", map[string]any{"Score": score, "Max": maxScore}), "", nil)
	return err
}

func (n *Notifier) DeliverStatus(ctx context.Context, chatID int64, notice assessment.Notice) error {
	ctx = n.localize(ctx)
	_, err := n.client.SendMessage(ctx, chatID, i18n.T(ctx, string(notice)), "", nil)
	return err
}

// AdminChannel sends reports to the administrator chat.
type AdminChannel struct {
	client *Client
	chatID int64
}

func NewAdminChannel(client *Client, chatID int64) *AdminChannel {
	return &AdminChannel{client: client, chatID: chatID}
}

// SendReport sends an HTML report, split into several messages if it is long.
func (a *AdminChannel) SendReport(ctx context.Context, text string) error {
	for _, chunk := range SplitMessage(text, maxMessageLen) {
		if _, err := a.client.SendMessage(ctx, a.chatID, chunk, ParseModeHTML, nil); err != nil {
			return err
		}
	}
	return nil
}

// SplitMessage cuts text into chunks of at most limit runes, preferring
// blank-line boundaries.
func SplitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, block := range strings.Split(text, "\n\n") {
		blockLen := utf8.RuneCountInString(block)
		sepLen := 0
		if curLen > 0 {
			sepLen = 2
		}
		if curLen+sepLen+blockLen <= limit {
			if sepLen > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(block)
			curLen += sepLen + blockLen
			continue
		}
		flush()
		parts := splitBlock(block, limit)
		chunks = append(chunks, parts[:len(parts)-1]...)
		block = parts[len(parts)-1]
		cur.WriteString(block)
		curLen = utf8.RuneCountInString(block)
	}
	flush()
	return chunks
}

// tagReserve is left free in a cut chunk for the closing tags appended to it.
const tagReserve = 32

// splitBlock cuts a block with no blank lines into chunks of at most limit
// runes. Cuts fall on a line break or space where possible and never inside
// a tag or entity. Tags open at a cut are closed and reopened in the next chunk.
func splitBlock(block string, limit int) []string {
	var chunks []string
	for utf8.RuneCountInString(block) > limit {
		runes := []rune(block)
		budget := limit
		if limit > 4*tagReserve {
			budget = limit - tagReserve
		}
		cut := cutPoint(runes[:budget])
		head := string(runes[:cut])
		open := openTags(head)
		var reopen strings.Builder
		for i := len(open) - 1; i >= 0; i-- {
			name, _, _ := strings.Cut(open[i], " ")
			head += "</" + name + ">"
		}
		for _, tag := range open {
			reopen.WriteString("<" + tag + ">")
		}
		chunks = append(chunks, head)
		block = reopen.String() + string(runes[cut:])
	}
	return append(chunks, block)
}

// cutPoint returns where to cut runes: after the last line break in its
// second half, else after the last space, else before an unfinished tag or
// entity, else at the end.
func cutPoint(runes []rune) int {
	lastNL, lastSpace := 0, 0
	tagStart, entStart := -1, -1
	for i, r := range runes {
		switch {
		case tagStart >= 0:
			if r == '>' {
				tagStart = -1
			}
			continue
		case r == '<':
			tagStart, entStart = i, -1
		case r == '&':
			entStart = i
		case r == ';':
			entStart = -1
		case r == '\n':
			lastNL, entStart = i+1, -1
		case r == ' ':
			lastSpace, entStart = i+1, -1
		}
	}
	switch {
	case lastNL > 0 && lastNL >= len(runes)/2:
		return lastNL
	case lastSpace > 0:
		return lastSpace
	case lastNL > 0:
		return lastNL
	case tagStart > 0:
		return tagStart
	case entStart > 0:
		return entStart
	}
	return len(runes)
}

// openTags returns the contents of the tags left open in s, outermost first.
func openTags(s string) []string {
	var stack []string
	for {
		i := strings.IndexByte(s, '<')
		if i < 0 {
			return stack
		}
		j := strings.IndexByte(s[i:], '>')
		if j < 0 {
			return stack
		}
		tag := s[i+1 : i+j]
		s = s[i+j+1:]
		if name, ok := strings.CutPrefix(tag, "/"); ok {
			for k := len(stack) - 1; k >= 0; k-- {
				if open, _, _ := strings.Cut(stack[k], " "); open == name {
					stack = stack[:k]
					break
				}
			}
			continue
		}
		stack = append(stack, tag)
	}
}
