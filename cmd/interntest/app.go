package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/pavelanni/interntest/internal/assessment"
	"github.com/pavelanni/interntest/internal/google"
	appI18n "github.com/pavelanni/interntest/internal/i18n"
	"github.com/pavelanni/interntest/internal/importer"
	"github.com/pavelanni/interntest/internal/report"
	"github.com/pavelanni/interntest/internal/store"
	"github.com/pavelanni/interntest/internal/telegram"
)

// app holds the wired components shared by all commands.
type app struct {
	store    *store.Store
	loc      *time.Location
	lang     string
	client   *telegram.Client
	google   *google.Services
	engine   *assessment.Engine
	reg      *assessment.Registrar
	reporter *report.Reporter
	importer *importer.Importer
}

// newApp opens the store and wires the components. The chat client is only
// built when needBot is set.
func newApp(ctx context.Context, v *viper.Viper, needBot bool) (*app, error) {
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	st, err := store.New(v.GetString("db-driver"), v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{store: st, loc: loc, lang: lang}

	if needBot {
		token := v.GetString("bot-token")
		if token == "" {
			st.Close()
			return nil, errors.New("bot token is required: set --bot-token or INTERNTEST_BOT_TOKEN")
		}
		a.client = telegram.NewClient(token, v.GetString("telegram-api-url"))
	}

	if a.google, err = googleServices(ctx, v); err != nil {
		st.Close()
		return nil, err
	}

	var roster importer.RosterSource
	var questions importer.QuestionSource
	var doc report.DocumentAppender
	if a.google != nil {
		if id := v.GetString("roster-sheet-id"); id != "" {
			roster = google.NewSheetRoster(a.google.Sheets, id, v.GetString("roster-worksheet"), loc)
		}
		if id := v.GetString("question-doc-id"); id != "" {
			questions = google.NewDocQuestions(a.google, id, v.GetString("photo-dir"), v.GetStringSlice("exclude-phrases"))
		}
		if id := v.GetString("report-doc-id"); id != "" {
			doc = google.NewDocAppender(a.google.Docs, id)
		}
	}
	if doc == nil {
		slog.Warn("report document not configured, reports go to the admin chat only")
	}
	a.importer = importer.New(st, roster, questions)

	var chat report.ChatSender
	if chatID := v.GetInt64("admin-chat-id"); chatID != 0 && a.client != nil {
		chat = telegram.NewAdminChannel(a.client, chatID)
	} else if needBot {
		slog.Warn("admin chat not configured, reports are not sent to chat")
	}
	a.reporter = report.New(st, chat, doc, loc)

	if a.client != nil {
		var progress assessment.ProgressCache
		switch backend := v.GetString("progress-backend"); backend {
		case "db":
			progress = assessment.NewStoreProgress(st)
		case "memory", "":
			progress = assessment.NewMemoryProgress()
		default:
			st.Close()
			return nil, fmt.Errorf("unknown progress backend %q", backend)
		}
		a.engine = assessment.New(assessment.Config{
			QuestionsPerTest: v.GetInt("questions-per-test"),
			Location:         loc,
		}, st, progress, telegram.NewNotifier(a.client, lang), a.reporter)
	}
	a.reg = assessment.NewRegistrar(st)
	return a, nil
}

func googleServices(ctx context.Context, v *viper.Viper) (*google.Services, error) {
	creds := []byte(v.GetString("google-credentials-json"))
	if path := v.GetString("google-credentials-file"); len(creds) == 0 && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read google credentials: %w", err)
		}
		creds = data
	}
	if len(creds) == 0 {
		slog.Warn("google credentials not configured, imports and report document disabled")
		return nil, nil
	}
	svc, err := google.NewServices(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("google services: %w", err)
	}
	return svc, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
