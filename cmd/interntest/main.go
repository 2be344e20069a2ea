package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/interntest/internal/handler"
	appI18n "github.com/pavelanni/interntest/internal/i18n"
	"github.com/pavelanni/interntest/internal/model"
	"github.com/pavelanni/interntest/internal/report"
	"github.com/pavelanni/interntest/internal/scheduler"
	"github.com/pavelanni/interntest/internal/telegram"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "interntest",
		Short: "Telegram bot that runs the daily intern knowledge test",
	}
	addConfigFlags(root)

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), sweepCmd(), reportCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `interntest --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// addConfigFlags declares the settings every command shares.
func addConfigFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	f.String("db-driver", "sqlite", "Database driver (sqlite, postgres)")
	f.String("db", "interntest.db", "SQLite path or PostgreSQL connection string")
	f.StringP("lang", "l", "uk", "Bot language (uk, en)")
	f.String("timezone", "Europe/Kyiv", "Time zone for eligibility days and schedules")
	f.String("bot-token", "", "Telegram bot token")
	f.String("telegram-api-url", "", "Bot API base URL (default https://api.telegram.org)")
	f.Int64("admin-chat-id", 0, "Chat that receives session reports")
	f.Int("questions-per-test", 20, "Questions per test")
	f.String("progress-backend", "memory", "Progress cache (memory, db)")
	f.String("google-credentials-file", "", "Service account credentials JSON file")
	f.String("google-credentials-json", "", "Service account credentials JSON")
	f.String("roster-sheet-id", "", "Spreadsheet ID of the intern roster")
	f.String("roster-worksheet", "БД Стажери", "Roster worksheet title")
	f.String("question-doc-id", "", "Document ID of the question bank")
	f.String("report-doc-id", "", "Document ID that receives session reports")
	f.String("photo-dir", "data/question_photos", "Directory for downloaded question images")
	f.StringSlice("exclude-phrases", nil, "Questions containing any of these phrases are not imported")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the scheduler and the HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("webhook-url", "", "Public webhook URL (long polling when empty)")
	f.String("webhook-secret", "", "Secret token expected on webhook requests")
	f.String("admin-password", "", "Admin API password (or set INTERNTEST_ADMIN_PASSWORD)")
	f.Bool("import-on-start", true, "Import roster and questions at startup")
	f.String("sweep-schedule", "1 16 * * *", "Cron spec of the daily test sweep")
	f.String("roster-schedule", "59 18 * * *", "Cron spec of the roster import")
	f.String("questions-schedule", "0 18 * * *", "Cron spec of the question import")
	f.Duration("job-timeout", 30*time.Minute, "Maximum duration of one scheduled job")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import the roster or the question bank now",
	}
	roster := &cobra.Command{
		Use:   "roster",
		Short: "Upsert the intern roster from the spreadsheet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.importer.ImportRoster(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	questions := &cobra.Command{
		Use:   "questions",
		Short: "Replace the question bank from the document (deletes recorded answers)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()
			force, _ := cmd.Flags().GetBool("force")
			res, err := a.importer.ImportQuestions(cmd.Context(), force)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	questions.Flags().Bool("force", false, "Import even if the document revision is unchanged")
	cmd.AddCommand(roster, questions)
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Start tests for interns eligible today (or on --date)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()
			now := time.Now()
			if d, _ := cmd.Flags().GetString("date"); d != "" {
				if now, err = time.ParseInLocation(model.DateLayout, d, a.loc); err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
			}
			res, err := a.engine.Sweep(cmd.Context(), now)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().String("date", "", "Eligibility day in YYYY-MM-DD format")
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Print a session report, or send it with --send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			send, _ := cmd.Flags().GetBool("send")
			a, err := setup(cmd, send)
			if err != nil {
				return err
			}
			defer a.Close()
			if send {
				return a.reporter.Dispatch(cmd.Context(), id)
			}
			rep, err := report.Build(cmd.Context(), a.store, id)
			if err != nil {
				return err
			}
			ctx := appI18n.WithLocalizer(cmd.Context(), appI18n.NewLocalizer(a.lang))
			_, err = fmt.Fprint(cmd.OutOrStdout(), report.RenderDocument(ctx, rep, a.loc))
			return err
		},
	}
	cmd.Flags().Bool("send", false, "Dispatch to the admin chat and the report document")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export test results as JSON",
		RunE:  runExport,
	}
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

// setup configures logging and wires the application for a command.
func setup(cmd *cobra.Command, needBot bool) (*app, error) {
	setupLogging(cmd)
	return newApp(cmd.Context(), viperForCmd(cmd), needBot)
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("INTERNTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("interntest")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/interntest")
	v.AddConfigPath("/etc/interntest")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, v, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if v.GetBool("import-on-start") {
		if a.importer.HasQuestions() {
			if _, err := a.importer.ImportQuestions(ctx, false); err != nil {
				slog.Error("initial question import failed", "error", err)
			}
		}
		if a.importer.HasRoster() {
			if _, err := a.importer.ImportRoster(ctx); err != nil {
				slog.Error("initial roster import failed", "error", err)
			}
		}
	}

	sched := scheduler.New(a.loc, v.GetDuration("job-timeout"))
	if err := sched.Add("sweep", v.GetString("sweep-schedule"), func(ctx context.Context) error {
		_, err := a.engine.Sweep(ctx, time.Now())
		return err
	}); err != nil {
		return err
	}
	if a.importer.HasRoster() {
		if err := sched.Add("import-roster", v.GetString("roster-schedule"), func(ctx context.Context) error {
			_, err := a.importer.ImportRoster(ctx)
			return err
		}); err != nil {
			return err
		}
	}
	if a.importer.HasQuestions() {
		if err := sched.Add("import-questions", v.GetString("questions-schedule"), func(ctx context.Context) error {
			_, err := a.importer.ImportQuestions(ctx, false)
			return err
		}); err != nil {
			return err
		}
	}

	var adminHash []byte
	if pw := v.GetString("admin-password"); pw != "" {
		if adminHash, err = handler.HashPassword(pw); err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
	}
	bot := telegram.NewBot(a.client, a.engine, a.reg, a.lang)
	h := handler.New(handler.Deps{
		Bot:      bot,
		Sweeper:  a.engine,
		Importer: a.importer,
		Store:    a.store,
		Reporter: a.reporter,
	}, handler.Config{
		WebhookSecret:     v.GetString("webhook-secret"),
		AdminPasswordHash: adminHash,
		Location:          a.loc,
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(a.lang))
	h.Routes(r)

	srv := &http.Server{Addr: v.GetString("addr"), Handler: r, ReadHeaderTimeout: 10 * time.Second}
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	webhookURL := v.GetString("webhook-url")
	pollDone := make(chan struct{})
	if webhookURL != "" {
		if err := a.client.SetWebhook(ctx, webhookURL, v.GetString("webhook-secret")); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		close(pollDone)
	} else {
		poller := telegram.NewPoller(a.client, bot.HandleUpdate)
		go func() {
			defer close(pollDone)
			if err := poller.Run(ctx); err != nil {
				slog.Error("poller stopped", "error", err)
			}
		}()
	}

	sched.Start(ctx)
	slog.Info("starting server",
		"addr", srv.Addr,
		"lang", a.lang,
		"timezone", a.loc.String(),
		"webhook", webhookURL != "",
		"progress_backend", v.GetString("progress-backend"),
		"admin_api", len(adminHash) > 0,
	)

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			slog.Error("http server failed", "error", err)
		}
		stop()
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if webhookURL != "" {
		if err := a.client.DeleteWebhook(shutdownCtx); err != nil {
			slog.Warn("failed to delete webhook", "error", err)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	<-pollDone
	h.Wait()
	sched.Stop(shutdownCtx)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	export, err := a.store.ExportAllSessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("export sessions: %w", err)
	}

	v := viperForCmd(cmd)
	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return printJSON(w, export)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, err = fmt.Fprintln(w)
	return err
}
