package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"

	"github.com/pavelanni/interntest/internal/assessment"
	"github.com/pavelanni/interntest/internal/i18n"
)

// Engine is the part of the test engine driven by chat events.
type Engine interface {
	Resume(ctx context.Context, telegramID int64) (assessment.ResumeOutcome, error)
	RecordAnswer(ctx context.Context, telegramID, questionID, optionID int64) (assessment.AnswerResult, error)
}

// Registrar links chat users to roster records.
type Registrar interface {
	Greeting(ctx context.Context, telegramID int64) (string, error)
	Register(ctx context.Context, telegramID int64, username, pin string) (string, error)
}

// Bot routes inbound updates to registration and the test engine.
type Bot struct {
	client *Client
	engine Engine
	reg    Registrar
	state  *StateManager
	loc    *goi18n.Localizer
}

func NewBot(client *Client, engine Engine, reg Registrar, lang string) *Bot {
	return &Bot{
		client: client,
		engine: engine,
		reg:    reg,
		state:  NewStateManager(),
		loc:    i18n.NewLocalizer(lang),
	}
}

// HandleUpdate processes one update. It never panics.
func (b *Bot) HandleUpdate(ctx context.Context, upd Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while handling update", "update_id", upd.UpdateID, "panic", r)
		}
	}()
	ctx = i18n.WithLocalizer(ctx, b.loc)
	if upd.CallbackQuery != nil {
		b.handleCallback(ctx, upd.CallbackQuery)
		return
	}
	if upd.Message != nil {
		b.handleMessage(ctx, upd.Message)
	}
}

// command returns the bot command at the start of the message, without any @botname suffix.
func command(msg *Message) string {
	for _, e := range msg.Entities {
		if e.Type == "bot_command" && e.Offset == 0 {
			cmd := msg.Text[:min(e.Length, len(msg.Text))]
			cmd, _, _ = strings.Cut(cmd, "@")
			return strings.ToLower(cmd)
		}
	}
	return ""
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.client.SendMessage(ctx, chatID, text, "", nil); err != nil {
		slog.Error("failed to send reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	switch command(msg) {
	case "/start":
		name, err := b.reg.Greeting(ctx, userID)
		switch {
		case err == nil:
			b.state.Clear(userID)
			b.reply(ctx, chatID, i18n.Td(ctx, "Welcome", map[string]any{"Name": name}))
		case errors.Is(err, assessment.ErrNotRegistered):
			b.state.Set(userID, StateAwaitsPIN)
			b.reply(ctx, chatID, i18n.T(ctx, "AskPIN"))
		default:
			slog.Error("greeting failed", "telegram_id", userID, "error", err)
			b.reply(ctx, chatID, i18n.T(ctx, "GenericError"))
		}
		return
	case "/start_test", "/status":
		if _, err := b.engine.Resume(ctx, userID); err != nil && !errors.Is(err, assessment.ErrUnrecoverableSession) {
			slog.Error("resume failed", "telegram_id", userID, "error", err)
			b.reply(ctx, chatID, i18n.T(ctx, "GenericError"))
		}
		return
	case "":
	default:
		b.reply(ctx, chatID, i18n.T(ctx, "Help"))
		return
	}

	if b.state.Get(userID) != StateAwaitsPIN {
		b.reply(ctx, chatID, i18n.T(ctx, "Help"))
		return
	}
	b.register(ctx, msg)
}

func (b *Bot) register(ctx context.Context, msg *Message) {
	userID := msg.From.ID
	name, err := b.reg.Register(ctx, userID, msg.From.Username, strings.TrimSpace(msg.Text))
	switch {
	case err == nil:
		b.state.Clear(userID)
		b.reply(ctx, msg.Chat.ID, i18n.Td(ctx, "Registered", map[string]any{"Name": name}))
	case errors.Is(err, assessment.ErrAlreadyRegistered):
		b.state.Clear(userID)
		b.reply(ctx, msg.Chat.ID, i18n.T(ctx, "AlreadyRegistered"))
	case errors.Is(err, assessment.ErrPINNotFound):
		b.reply(ctx, msg.Chat.ID, i18n.T(ctx, "PINNotFound"))
	case errors.Is(err, assessment.ErrPINTaken):
		b.state.Clear(userID)
		b.reply(ctx, msg.Chat.ID, i18n.T(ctx, "PINTaken"))
	case errors.Is(err, assessment.ErrIntegrityViolation):
		slog.Warn("registration conflict", "telegram_id", userID, "error", err)
		b.reply(ctx, msg.Chat.ID, i18n.T(ctx, "RegistrationConflict"))
	default:
		slog.Error("registration failed", "telegram_id", userID, "error", err)
		b.reply(ctx, msg.Chat.ID, i18n.T(ctx, "GenericError"))
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *CallbackQuery) {
	qid, oid, ok := ParseAnswerData(cq.Data)
	if !ok {
		b.answerCallback(ctx, cq.ID, "", false)
		return
	}

	res, err := b.engine.RecordAnswer(ctx, cq.From.ID, qid, oid)
	if err != nil {
		slog.Error("record answer failed", "telegram_id", cq.From.ID, "question_id", qid, "error", err)
		b.answerCallback(ctx, cq.ID, i18n.T(ctx, "GenericError"), true)
		return
	}

	switch res.Outcome {
	case assessment.OutcomeAccepted:
		b.answerCallback(ctx, cq.ID, i18n.Td(ctx, "AnswerAccepted", map[string]any{"Answer": res.SelectedText}), false)
		b.clearKeyboard(ctx, cq)
	case assessment.OutcomeIgnoredStale, assessment.OutcomeIgnoredDuplicate:
		b.answerCallback(ctx, cq.ID, i18n.T(ctx, "AnswerIgnored"), false)
		b.clearKeyboard(ctx, cq)
	case assessment.OutcomeRejected:
		text := i18n.T(ctx, "AnswerRejected")
		if errors.Is(res.Reason, assessment.ErrUnrecoverableSession) {
			text = i18n.T(ctx, "Unrecoverable")
		}
		b.answerCallback(ctx, cq.ID, text, true)
		b.clearKeyboard(ctx, cq)
	}
}

func (b *Bot) answerCallback(ctx context.Context, id, text string, alert bool) {
	if err := b.client.AnswerCallbackQuery(ctx, id, text, alert); err != nil {
		slog.Warn("failed to answer callback", "error", err)
	}
}

func (b *Bot) clearKeyboard(ctx context.Context, cq *CallbackQuery) {
	if cq.Message == nil {
		return
	}
	if err := b.client.EditMessageReplyMarkup(ctx, cq.Message.Chat.ID, cq.Message.MessageID, nil); err != nil {
		slog.Debug("failed to clear keyboard", "error", err)
	}
}

// Poller receives updates by long polling when no webhook is configured.
type Poller struct {
	client  *Client
	handle  func(ctx context.Context, upd Update)
	timeout int
	wg      sync.WaitGroup
}

func NewPoller(client *Client, handle func(ctx context.Context, upd Update)) *Poller {
	return &Poller{client: client, handle: handle, timeout: 25}
}

// Run polls until ctx is cancelled, then waits for in-flight updates.
func (p *Poller) Run(ctx context.Context) error {
	defer p.wg.Wait()
	if err := p.client.DeleteWebhook(ctx); err != nil {
		slog.Warn("failed to delete webhook before polling", "error", err)
	}
	slog.Info("polling for updates")

	// Handlers finish their work after shutdown starts.
	hctx := context.WithoutCancel(ctx)
	var offset int64
	for {
		updates, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Error("get updates failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, upd := range updates {
			offset = upd.UpdateID + 1
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.handle(hctx, upd)
			}()
		}
	}
}
