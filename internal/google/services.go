// Package google adapts Google Sheets, Docs and Drive to the roster and
// question importers and to the report document.
package google

import (
	"context"
	"fmt"

	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Services bundles the API clients authorized with one service account.
type Services struct {
	Sheets *sheets.Service
	Docs   *docs.Service
	Drive  *drive.Service
}

// NewServices builds the API clients from service account credentials JSON.
func NewServices(ctx context.Context, credentialsJSON []byte) (*Services, error) {
	opts := []option.ClientOption{
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheets.SpreadsheetsReadonlyScope, docs.DocumentsScope, drive.DriveReadonlyScope),
	}
	sh, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	dc, err := docs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("docs client: %w", err)
	}
	dr, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive client: %w", err)
	}
	return &Services{Sheets: sh, Docs: dc, Drive: dr}, nil
}
