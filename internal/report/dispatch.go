package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// ChatSender delivers the chat rendering to the administrator.
type ChatSender interface {
	SendReport(ctx context.Context, text string) error
}

// DocumentAppender appends the document rendering to the report document.
type DocumentAppender interface {
	AppendText(ctx context.Context, text string) error
}

// Reporter dispatches finalized session reports to both channels.
// Either channel may be nil to disable it.
type Reporter struct {
	src  Source
	chat ChatSender
	doc  DocumentAppender
	loc  *time.Location
}

func New(src Source, chat ChatSender, doc DocumentAppender, loc *time.Location) *Reporter {
	if loc == nil {
		loc = time.Local
	}
	return &Reporter{src: src, chat: chat, doc: doc, loc: loc}
}

// Dispatch builds the report once and delivers it on both channels
// concurrently. A failure on one channel does not affect the other; the
// returned error joins the failures.
func (r *Reporter) Dispatch(ctx context.Context, sessionID int64) error {
	rep, err := Build(ctx, r.src, sessionID)
	if err != nil {
		return err
	}
	log := slog.With("session_id", sessionID)

	var chatErr, docErr error
	var g errgroup.Group
	if r.chat != nil {
		g.Go(func() error {
			if err := r.chat.SendReport(ctx, RenderChat(ctx, rep, r.loc)); err != nil {
				chatErr = fmt.Errorf("admin chat: %w", err)
				log.Error("failed to send report to admin chat", "error", err)
				return nil
			}
			log.Info("report sent to admin chat")
			return nil
		})
	}
	if r.doc != nil {
		g.Go(func() error {
			if err := r.doc.AppendText(ctx, RenderDocument(ctx, rep, r.loc)); err != nil {
				docErr = fmt.Errorf("report document: %w", err)
				log.Error("failed to append report to document", "error", err)
				return nil
			}
			log.Info("report appended to document")
			return nil
		})
	}
	g.Wait()
	return errors.Join(chatErr, docErr)
}
