// Package rbac decides which workspace roles may perform which page and
// comment actions.
package rbac

import (
	"context"
	"errors"
	"fmt"
)

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead          Action = "read"
	ActionComment       Action = "comment"
	ActionReact         Action = "react"
	ActionResolve       Action = "resolve"
	ActionEditComment   Action = "edit_comment"
	ActionDeleteComment Action = "delete_comment"
	ActionModerate      Action = "moderate"
	ActionWrite         Action = "write"
	ActionAdmin         Action = "admin"
)

var ErrDenied = errors.New("rbac: action denied")

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string
	Name string
	Role Role
}

// Resource names what an action touches. OwnerID is the creator of the
// comment when the action targets one.
type Resource struct {
	PageID    string
	CommentID string
	OwnerID   string
}

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action != ActionAdmin
	case RoleCommenter:
		switch action {
		case ActionRead, ActionComment, ActionReact, ActionResolve, ActionEditComment, ActionDeleteComment:
			return true
		}
		return false
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// RoleAuthorizer applies Can plus ownership: only the creator edits a
// comment, and deleting someone else's comment needs ActionModerate.
type RoleAuthorizer struct{}

func (RoleAuthorizer) Authorize(_ context.Context, actor Actor, action Action, res Resource) error {
	if actor.ID == "" {
		return fmt.Errorf("%w: anonymous actor", ErrDenied)
	}
	if !Can(actor.Role, action) {
		return fmt.Errorf("%w: role %s cannot %s", ErrDenied, actor.Role, action)
	}
	switch action {
	case ActionEditComment:
		if res.OwnerID != actor.ID {
			return fmt.Errorf("%w: only the author may edit comment %s", ErrDenied, res.CommentID)
		}
	case ActionDeleteComment:
		if res.OwnerID != actor.ID && !Can(actor.Role, ActionModerate) {
			return fmt.Errorf("%w: comment %s belongs to another user", ErrDenied, res.CommentID)
		}
	}
	return nil
}
