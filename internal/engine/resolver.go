package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ravenel/docuflow/internal/model"
	"github.com/ravenel/docuflow/internal/store"
)

// ApproverResolver determines the set of users eligible to act on a step.
type ApproverResolver struct {
	store store.Store
}

// NewApproverResolver creates a resolver backed by the given store.
func NewApproverResolver(s store.Store) *ApproverResolver {
	return &ApproverResolver{store: s}
}

// Resolve returns the eligible approvers for a step. The first non-empty
// result in the fallback chain wins:
//
//  1. the step's explicitly assigned approvers,
//  2. the union of users holding any of the step's required roles,
//  3. users holding the administrator role.
//
// Only active and enabled users qualify at every level. The result is
// deduplicated and sorted by username. An empty result means no eligible
// user exists anywhere in the chain; callers must treat that as fatal for
// the operation that needed the step staffed.
func (r *ApproverResolver) Resolve(ctx context.Context, step *model.Step) ([]model.User, error) {
	if len(step.Approvers) > 0 {
		var users []model.User
		for _, username := range step.Approvers {
			u, err := r.store.GetUser(ctx, username)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("load approver %s: %w", username, err)
			}
			if u.Eligible() {
				users = append(users, *u)
			}
		}
		if len(users) > 0 {
			return dedupe(users), nil
		}
	}

	if len(step.RequiredRoles) > 0 {
		var users []model.User
		for _, role := range step.RequiredRoles {
			held, err := r.store.UsersByRole(ctx, role)
			if err != nil {
				return nil, fmt.Errorf("load users with role %s: %w", role, err)
			}
			for _, u := range held {
				if u.Eligible() {
					users = append(users, u)
				}
			}
		}
		if len(users) > 0 {
			return dedupe(users), nil
		}
	}

	admins, err := r.store.UsersByRole(ctx, model.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("load administrators: %w", err)
	}
	var users []model.User
	for _, u := range admins {
		if u.Eligible() {
			users = append(users, u)
		}
	}
	return dedupe(users), nil
}

// dedupe removes duplicate usernames and sorts for deterministic task
// generation order.
func dedupe(users []model.User) []model.User {
	seen := make(map[string]bool, len(users))
	out := users[:0]
	for _, u := range users {
		if seen[u.Username] {
			continue
		}
		seen[u.Username] = true
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
