package services

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"

	"edu-knowledge-platform/internal/logger"
)

// TextExtractor converts an uploaded file into plain text based on its
// declared content type. Markdown and plain text pass through unchanged.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

func (e *TextExtractor) Extract(content []byte, contentType, filename string) (string, error) {
	switch {
	case strings.Contains(contentType, "pdf") || strings.HasSuffix(strings.ToLower(filename), ".pdf"):
		return e.extractPDF(content)
	case strings.Contains(contentType, "html") || strings.HasSuffix(strings.ToLower(filename), ".html"):
		return e.extractHTML(content)
	default:
		return string(content), nil
	}
}

func (e *TextExtractor) extractPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	var text strings.Builder
	numPages := reader.NumPage()

	for pageNum := 1; pageNum <= numPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			logger.Warn("Failed to extract PDF page", "page", pageNum, "error", err)
			continue
		}
		text.WriteString(pageText)
		text.WriteString("\n\n")
	}

	result := strings.TrimSpace(text.String())
	if result == "" {
		return "", fmt.Errorf("no extractable text in PDF")
	}
	return result, nil
}

// extractHTML strips markup and keeps block-level text, skipping script and
// style content.
func (e *TextExtractor) extractHTML(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript, nav, footer").Remove()

	var text strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		t := strings.TrimSpace(s.Text())
		if t != "" {
			text.WriteString(t)
			text.WriteString("\n\n")
		}
	})

	result := strings.TrimSpace(text.String())
	if result == "" {
		// Fallback for documents without block structure.
		result = strings.TrimSpace(doc.Find("body").Text())
	}
	return result, nil
}
