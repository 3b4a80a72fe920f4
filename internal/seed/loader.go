// Package seed loads declarative YAML seed files describing directory users
// and workflow templates, and applies them to the store at startup.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ravenel/docuflow/internal/model"
	"github.com/ravenel/docuflow/internal/store"
)

// File is the top-level seed document.
type File struct {
	Users     []User     `yaml:"users"`
	Templates []Template `yaml:"templates"`
}

// User declares one directory user.
type User struct {
	Username    string   `yaml:"username"`
	DisplayName string   `yaml:"display_name"`
	Active      bool     `yaml:"active"`
	Enabled     bool     `yaml:"enabled"`
	Roles       []string `yaml:"roles"`
}

// Template declares one workflow template with its ordered steps.
type Template struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	IsActive        bool   `yaml:"is_active"`
	DefaultSLAHours int    `yaml:"default_sla_hours"`
	Steps           []Step `yaml:"steps"`
}

// Step declares one template step.
type Step struct {
	Order             int      `yaml:"order"`
	Name              string   `yaml:"name"`
	Kind              string   `yaml:"kind"`
	Policy            string   `yaml:"policy"`
	RequiredApprovals int      `yaml:"required_approvals"`
	Approvers         []string `yaml:"approvers"`
	RequiredRoles     []string `yaml:"required_roles"`
	SLAHours          int      `yaml:"sla_hours"`
}

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("validate seed file %s: %w", path, err)
	}
	return &f, nil
}

func (f *File) validate() error {
	seenUsers := make(map[string]bool)
	for i, u := range f.Users {
		if u.Username == "" {
			return fmt.Errorf("user %d: username is required", i)
		}
		if seenUsers[u.Username] {
			return fmt.Errorf("duplicate user %q", u.Username)
		}
		seenUsers[u.Username] = true
	}

	seenTemplates := make(map[string]bool)
	for i, t := range f.Templates {
		if t.Name == "" {
			return fmt.Errorf("template %d: name is required", i)
		}
		if t.ID != "" {
			if seenTemplates[t.ID] {
				return fmt.Errorf("duplicate template id %q", t.ID)
			}
			seenTemplates[t.ID] = true
		}
		if err := validateSteps(t); err != nil {
			return fmt.Errorf("template %q: %w", t.Name, err)
		}
	}
	return nil
}

// validateSteps enforces the shape the engine assumes: at least one step,
// orders forming a contiguous 1..N sequence, known kinds and policies.
func validateSteps(t Template) error {
	if len(t.Steps) == 0 {
		return errors.New("at least one step is required")
	}

	seen := make(map[int]bool, len(t.Steps))
	for _, s := range t.Steps {
		if s.Order < 1 {
			return fmt.Errorf("step %q: order must be >= 1", s.Name)
		}
		if seen[s.Order] {
			return fmt.Errorf("duplicate step order %d", s.Order)
		}
		seen[s.Order] = true

		if !model.ValidStepKind(s.Kind) {
			return fmt.Errorf("step %q: unknown kind %q", s.Name, s.Kind)
		}
		if !model.ValidPolicy(s.Policy) {
			return fmt.Errorf("step %q: unknown policy %q", s.Name, s.Policy)
		}
	}

	for order := 1; order <= len(t.Steps); order++ {
		if !seen[order] {
			return fmt.Errorf("step orders are not contiguous: missing order %d", order)
		}
	}
	return nil
}

// Apply inserts seed records into the store, skipping users and templates
// that already exist so repeated startups are idempotent.
func Apply(ctx context.Context, f *File, s store.Store, logger *slog.Logger) error {
	now := time.Now().UTC()

	for _, u := range f.Users {
		_, err := s.GetUser(ctx, u.Username)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("check user %s: %w", u.Username, err)
		}
		if err := s.CreateUser(ctx, &model.User{
			Username:    u.Username,
			DisplayName: u.DisplayName,
			Active:      u.Active,
			Enabled:     u.Enabled,
			Roles:       u.Roles,
		}); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Username, err)
		}
		logger.Info("seeded user", "username", u.Username)
	}

	for _, t := range f.Templates {
		id := t.ID
		if id == "" {
			id = model.NewID()
		} else {
			_, err := s.GetTemplate(ctx, id)
			if err == nil {
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("check template %s: %w", id, err)
			}
		}

		steps := make([]model.Step, 0, len(t.Steps))
		for _, st := range t.Steps {
			steps = append(steps, model.Step{
				Order:             st.Order,
				Name:              st.Name,
				Kind:              st.Kind,
				Policy:            st.Policy,
				RequiredApprovals: st.RequiredApprovals,
				Approvers:         st.Approvers,
				RequiredRoles:     st.RequiredRoles,
				SLAHours:          st.SLAHours,
			})
		}

		if err := s.CreateTemplate(ctx, &model.WorkflowTemplate{
			ID:              id,
			Name:            t.Name,
			Description:     t.Description,
			IsActive:        t.IsActive,
			DefaultSLAHours: t.DefaultSLAHours,
			Steps:           steps,
			CreatedAt:       now,
		}); err != nil {
			return fmt.Errorf("seed template %s: %w", t.Name, err)
		}
		logger.Info("seeded template", "template_id", id, "name", t.Name)
	}

	return nil
}
