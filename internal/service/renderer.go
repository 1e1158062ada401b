package service

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/osteele/liquid"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Rendered is a template rendered for sending.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

type Renderer interface {
	Render(t *model.Template, data map[string]any) (Rendered, error)
}

// TemplateRenderer renders liquid templates. Subject and content are both
// liquid sources; the plain text part is derived from the HTML.
type TemplateRenderer struct {
	engine *liquid.Engine
}

func NewTemplateRenderer() *TemplateRenderer {
	engine := liquid.NewEngine()

	// {{ first_name | default: "there" }}
	engine.RegisterFilter("default", func(value any, fallback string) any {
		if value == nil {
			return fallback
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			return fallback
		}
		return value
	})
	return &TemplateRenderer{engine: engine}
}

func (r *TemplateRenderer) Render(t *model.Template, data map[string]any) (Rendered, error) {
	if t == nil {
		return Rendered{}, fmt.Errorf("render: nil template")
	}
	bindings := liquid.Bindings(data)

	subject, err := r.engine.ParseAndRenderString(t.Subject, bindings)
	if err != nil {
		return Rendered{}, fmt.Errorf("render subject of template %s: %w", t.ID, err)
	}
	body, err := r.engine.ParseAndRenderString(t.Content, bindings)
	if err != nil {
		return Rendered{}, fmt.Errorf("render content of template %s: %w", t.ID, err)
	}
	return Rendered{
		Subject: strings.TrimSpace(subject),
		HTML:    body,
		Text:    htmlToText(body),
	}, nil
}

// Validate parses both sources without rendering them.
func (r *TemplateRenderer) Validate(t *model.Template) error {
	if _, err := r.engine.ParseString(t.Subject); err != nil {
		return appErrors.NewValidation("subject", "invalid template syntax: %v", err)
	}
	if _, err := r.engine.ParseString(t.Content); err != nil {
		return appErrors.NewValidation("content", "invalid template syntax: %v", err)
	}
	return nil
}

var (
	blockTags  = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/h[1-6]|/li|/tr)\s*/?>`)
	scriptTags = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	anyTag     = regexp.MustCompile(`<[^>]+>`)
	blankLines = regexp.MustCompile(`\n\s*\n+`)
)

func htmlToText(s string) string {
	s = scriptTags.ReplaceAllString(s, "")
	s = blockTags.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLines.ReplaceAllString(s, "\n\n"))
}
