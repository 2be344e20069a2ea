// Package i18n translates bot messages and reports from the embedded locale
// files.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

var (
	mu          sync.RWMutex
	bundle      *i18n.Bundle
	defaultLang = "uk"
	localizers  = map[string]*i18n.Localizer{}
)

// Init loads every embedded locale and makes lang the fallback language.
// lang must have a locale file.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	loaded := map[language.Tag]bool{}
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile(path.Join("locales", e.Name()))
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		mf, err := b.ParseMessageFileBytes(data, e.Name())
		if err != nil {
			return fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
		loaded[mf.Tag] = true
		slog.Debug("loaded locale file", "file", e.Name())
	}
	if !loaded[tag] {
		return fmt.Errorf("no translations for language %q", lang)
	}

	mu.Lock()
	defer mu.Unlock()
	bundle = b
	defaultLang = lang
	localizers = map[string]*i18n.Localizer{}
	return nil
}

// NewLocalizer returns the cached localizer for lang, falling back to the
// Init language for missing messages.
func NewLocalizer(lang string) *i18n.Localizer {
	mu.RLock()
	loc, ok := localizers[lang]
	mu.RUnlock()
	if ok {
		return loc
	}

	mu.Lock()
	defer mu.Unlock()
	if loc, ok := localizers[lang]; ok {
		return loc
	}
	loc = i18n.NewLocalizer(bundle, lang, defaultLang)
	localizers[lang] = loc
	return loc
}

// acceptLocalizer builds an uncached localizer from an Accept-Language value.
func acceptLocalizer(accept, lang string) *i18n.Localizer {
	mu.RLock()
	defer mu.RUnlock()
	return i18n.NewLocalizer(bundle, accept, lang, defaultLang)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

func localizerFromCtx(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	mu.RLock()
	lang := defaultLang
	mu.RUnlock()
	return NewLocalizer(lang)
}

func localize(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	s, err := localizerFromCtx(ctx).Localize(cfg)
	if err != nil {
		slog.Warn("missing translation", "id", cfg.MessageID, "error", err)
		return cfg.MessageID
	}
	return s
}

// T translates a message by ID. A missing message yields its ID.
func T(ctx context.Context, msgID string) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID})
}

// Td translates a message by ID with template data.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID, TemplateData: data})
}

// Tp translates a pluralized message; Count is available to the template.
func Tp(ctx context.Context, msgID string, count int) string {
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}
