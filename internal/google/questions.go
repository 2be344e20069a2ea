package google

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"

	"github.com/pavelanni/interntest/internal/model"
)

var (
	numberingRe  = regexp.MustCompile(`^\s*(\d+\.?\s*|Q\s*:\s*)`)
	driveIDRe    = regexp.MustCompile(`(?:/d/|[?&]id=)([-\w]{20,})`)
	unsafeFileRe = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
)

// ParsedQuestion is a question read from the document with the ID of its
// inline image, if any.
type ParsedQuestion struct {
	model.QuestionImport
	ImageObjectID string
}

// DocQuestions reads the question bank from a Google document.
type DocQuestions struct {
	docs       *docs.Service
	drive      *drive.Service
	docID      string
	photoDir   string
	exclude    []string
	httpClient *http.Client
}

func NewDocQuestions(svc *Services, docID, photoDir string, exclude []string) *DocQuestions {
	return &DocQuestions{
		docs:       svc.Docs,
		drive:      svc.Drive,
		docID:      docID,
		photoDir:   photoDir,
		exclude:    exclude,
		httpClient: http.DefaultClient,
	}
}

// FetchQuestions parses the document and downloads question images into the
// photo directory. A failed image download keeps the question without image.
func (d *DocQuestions) FetchQuestions(ctx context.Context) (*model.QuestionBank, error) {
	doc, err := d.docs.Documents.Get(d.docID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	parsed := ParseDocument(doc, d.exclude)

	if err := os.MkdirAll(d.photoDir, 0o755); err != nil {
		return nil, fmt.Errorf("create photo dir: %w", err)
	}
	bank := &model.QuestionBank{Revision: doc.RevisionId}
	for _, pq := range parsed {
		q := pq.QuestionImport
		if pq.ImageObjectID != "" {
			path, err := d.downloadImage(ctx, doc, pq.ImageObjectID)
			if err != nil {
				slog.Warn("failed to download question image", "object_id", pq.ImageObjectID, "error", err)
			} else {
				q.ImagePath = path
			}
		}
		bank.Questions = append(bank.Questions, q)
	}
	slog.Info("parsed question document", "questions", len(bank.Questions), "revision", bank.Revision)
	return bank, nil
}

func (d *DocQuestions) downloadImage(ctx context.Context, doc *docs.Document, objectID string) (string, error) {
	obj, ok := doc.InlineObjects[objectID]
	if !ok || obj.InlineObjectProperties == nil || obj.InlineObjectProperties.EmbeddedObject == nil ||
		obj.InlineObjectProperties.EmbeddedObject.ImageProperties == nil {
		return "", fmt.Errorf("inline object %s has no image", objectID)
	}
	uri := obj.InlineObjectProperties.EmbeddedObject.ImageProperties.ContentUri

	var resp *http.Response
	var err error
	if id := DriveFileID(uri); id != "" {
		resp, err = d.drive.Files.Get(id).Context(ctx).Download()
	} else {
		var req *http.Request
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return "", err
		}
		resp, err = d.httpClient.Do(req)
	}
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}

	path := filepath.Join(d.photoDir, "q_"+unsafeFileRe.ReplaceAllString(objectID, "_")+".png")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, f.Close()
}

// DriveFileID extracts a Drive file ID from an image URI, or returns "".
func DriveFileID(uri string) string {
	m := driveIDRe.FindStringSubmatch(uri)
	if m == nil {
		return ""
	}
	return m[1]
}

// ParseDocument extracts questions from the document body.
//
// A paragraph ending with ':' starts a question, with leading numbering
// removed. A paragraph starting with '-' is an option of the current
// question and is correct when its text is green. Other text before the
// first option continues the question. Questions containing an excluded
// phrase are dropped with their options.
func ParseDocument(doc *docs.Document, exclude []string) []ParsedQuestion {
	var out []ParsedQuestion
	var cur *ParsedQuestion
	flush := func() {
		if cur == nil {
			return
		}
		if len(cur.Options) == 0 {
			slog.Warn("question has no options, skipping", "question", cur.Text)
		} else {
			out = append(out, *cur)
		}
		cur = nil
	}

	if doc.Body == nil {
		return nil
	}
	skipping := false
	for _, el := range doc.Body.Content {
		if el.Paragraph == nil {
			continue
		}
		text, green, imageID := paragraphContent(el.Paragraph)
		if imageID != "" && cur != nil && cur.ImageObjectID == "" {
			cur.ImageObjectID = imageID
		}
		if text == "" {
			continue
		}

		switch {
		case strings.HasSuffix(text, ":"):
			flush()
			skipping = containsAny(text, exclude)
			if skipping {
				slog.Info("skipping excluded question", "question", text)
				continue
			}
			cur = &ParsedQuestion{QuestionImport: model.QuestionImport{
				Text: strings.TrimSpace(numberingRe.ReplaceAllString(text, "")),
			}}
		case strings.HasPrefix(text, "-"):
			if cur == nil || skipping {
				continue
			}
			cur.Options = append(cur.Options, model.OptionImport{
				Text:      strings.TrimSpace(strings.TrimPrefix(text, "-")),
				IsCorrect: green,
			})
		default:
			if cur != nil && !skipping && len(cur.Options) == 0 {
				cur.Text += "\n" + text
			}
		}
	}
	flush()
	return out
}

// paragraphContent returns the trimmed text of a paragraph, whether any of
// its text is green, and the first inline object in it.
func paragraphContent(p *docs.Paragraph) (text string, green bool, imageID string) {
	var b strings.Builder
	for _, pe := range p.Elements {
		if pe.InlineObjectElement != nil && imageID == "" {
			imageID = pe.InlineObjectElement.InlineObjectId
		}
		tr := pe.TextRun
		if tr == nil {
			continue
		}
		b.WriteString(tr.Content)
		if strings.TrimSpace(tr.Content) != "" && isGreen(tr.TextStyle) {
			green = true
		}
	}
	return strings.TrimSpace(b.String()), green, imageID
}

func isGreen(style *docs.TextStyle) bool {
	if style == nil || style.ForegroundColor == nil || style.ForegroundColor.Color == nil ||
		style.ForegroundColor.Color.RgbColor == nil {
		return false
	}
	c := style.ForegroundColor.Color.RgbColor
	return c.Green > 0.15 && c.Green > c.Red+0.1 && c.Green > c.Blue+0.1
}

func containsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
