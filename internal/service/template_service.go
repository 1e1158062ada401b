// internal/service/template_service.go
package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/sender"
)

type TemplateService struct {
	Repo     repository.TemplateRepositoryInterface
	Renderer *TemplateRenderer
	// Sender and Background are optional; without them no test send happens.
	Sender     sender.Sender
	Background *Background
	From       string
	Log        zerolog.Logger
}

// Save validates and stores a template. When the template names a test
// address, a test send is handed to the background executor; its outcome
// never affects the save.
func (s *TemplateService) Save(ctx context.Context, t *model.Template) (*model.Template, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return nil, appErrors.NewValidation("name", "is required")
	}
	if strings.TrimSpace(t.Subject) == "" {
		return nil, appErrors.NewValidation("subject", "is required")
	}
	if strings.TrimSpace(t.Content) == "" {
		return nil, appErrors.NewValidation("content", "is required")
	}
	if t.TestEmail != "" {
		if _, err := mail.ParseAddress(t.TestEmail); err != nil {
			return nil, appErrors.NewValidation("testEmail", "invalid email address %q", t.TestEmail)
		}
	}
	if err := s.Renderer.Validate(t); err != nil {
		return nil, err
	}

	if err := s.Repo.Save(ctx, t); err != nil {
		return nil, err
	}

	if t.TestEmail != "" && s.Sender != nil && s.Background != nil {
		saved := *t
		s.Background.Submit("template-test-send", func(ctx context.Context) error {
			return s.sendTest(ctx, &saved)
		})
	}
	return t, nil
}

func (s *TemplateService) sendTest(ctx context.Context, t *model.Template) error {
	rendered, err := s.Renderer.Render(t, previewBindings())
	if err != nil {
		return err
	}
	res, err := s.Sender.Send(ctx, sender.Message{
		From:    s.From,
		To:      t.TestEmail,
		Subject: "[TEST] " + rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
		Tags:    map[string]string{"template": t.ID, "kind": "test"},
	})
	if err != nil {
		return fmt.Errorf("test send of template %s: %w", t.ID, err)
	}
	s.Log.Info().Str("template_id", t.ID).Str("to", t.TestEmail).Str("message_id", res.MessageID).Msg("template test email sent")
	return nil
}

func (s *TemplateService) Get(ctx context.Context, id string) (*model.Template, error) {
	return s.Repo.GetByID(ctx, id)
}

func (s *TemplateService) List(ctx context.Context) ([]model.Template, error) {
	return s.Repo.List(ctx)
}

// Preview renders a stored template with sample bindings, optionally
// overridden by data.
func (s *TemplateService) Preview(ctx context.Context, id string, data map[string]any) (Rendered, error) {
	t, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return Rendered{}, err
	}
	bindings := previewBindings()
	for k, v := range data {
		bindings[k] = v
	}
	return s.Renderer.Render(t, bindings)
}

func previewBindings() map[string]any {
	return map[string]any{
		"campaign": map[string]any{"id": "preview", "name": "Preview campaign"},
	}
}
