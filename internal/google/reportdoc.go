package google

import (
	"context"
	"fmt"

	"google.golang.org/api/docs/v1"
)

// DocAppender appends text to the end of a Google document body.
type DocAppender struct {
	svc   *docs.Service
	docID string
}

func NewDocAppender(svc *docs.Service, docID string) *DocAppender {
	return &DocAppender{svc: svc, docID: docID}
}

func (a *DocAppender) AppendText(ctx context.Context, text string) error {
	req := &docs.BatchUpdateDocumentRequest{
		Requests: []*docs.Request{{
			InsertText: &docs.InsertTextRequest{
				Text:                 text,
				EndOfSegmentLocation: &docs.EndOfSegmentLocation{},
			},
		}},
	}
	if _, err := a.svc.Documents.BatchUpdate(a.docID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("append to document %s: %w", a.docID, err)
	}
	return nil
}
