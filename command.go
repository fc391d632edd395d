package provision

import (
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// CommandAction enumerates the mutation kinds a command can request.
type CommandAction string

const (
	ActionCreate CommandAction = "create"
	ActionUpdate CommandAction = "update"
	ActionDelete CommandAction = "delete"
	ActionCustom CommandAction = "custom"
)

// Valid reports whether the action is one of the known kinds.
func (a CommandAction) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionCustom:
		return true
	}
	return false
}

// Command is the immutable input to an orchestration: one requested
// mutation against one target entity. Commands are created once by a
// caller and never modified after dispatch.
type Command struct {
	CommandID      string        `json:"command_id" yaml:"command_id"`
	ParentID       string        `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	OrganizationID string        `json:"organization_id" yaml:"organization_id"`
	ProjectID      string        `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Action         CommandAction `json:"action" yaml:"action"`
	User           User          `json:"user" yaml:"user"`
	Payload        Payload       `json:"payload" yaml:"payload"`
	CreatedAt      time.Time     `json:"created_at" yaml:"created_at"`
}

// Payload is the target entity snapshot carried by a command.
type Payload interface {
	Kind() DocumentKind
	EntityID() string
}

// NewCommand builds a command with a fresh id for the given action and payload.
func NewCommand(action CommandAction, user User, payload Payload) Command {
	cmd := Command{
		CommandID: uuid.NewString(),
		Action:    action,
		User:      user,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if payload != nil {
		if scoped, ok := payload.(interface{ Organization() string }); ok {
			cmd.OrganizationID = scoped.Organization()
		}
		if payload.Kind() == KindProject {
			cmd.ProjectID = payload.EntityID()
		}
	}
	return cmd
}

// Type returns the dispatch key for the command, e.g. "project::create".
func (c Command) Type() string {
	kind := "unknown"
	if c.Payload != nil {
		kind = string(c.Payload.Kind())
	}
	return kind + "::" + string(c.Action)
}

// Target identifies the entity this command mutates, used as the lock key.
func (c Command) Target() (DocumentKind, string) {
	if c.Payload == nil {
		return "", ""
	}
	return c.Payload.Kind(), c.Payload.EntityID()
}

// Validate enforces the structural requirements shared by every command.
func (c Command) Validate() error {
	if strings.TrimSpace(c.CommandID) == "" {
		return errors.New("command id required", errors.CategoryValidation).
			WithTextCode(ErrCodeValidation)
	}
	if !c.Action.Valid() {
		return errors.New("unknown command action", errors.CategoryValidation).
			WithTextCode(ErrCodeValidation).
			WithMetadata(map[string]any{"action": string(c.Action)})
	}
	if c.Payload == nil {
		return errors.New("command payload required", errors.CategoryValidation).
			WithTextCode(ErrCodeValidation)
	}
	if strings.TrimSpace(c.Payload.EntityID()) == "" {
		return errors.New("payload entity id required", errors.CategoryValidation).
			WithTextCode(ErrCodeValidation).
			WithMetadata(map[string]any{"kind": string(c.Payload.Kind())})
	}
	if strings.TrimSpace(c.User.ID) == "" {
		return errors.New("command user required", errors.CategoryValidation).
			WithTextCode(ErrCodeValidation)
	}
	return nil
}

// ChildCommand derives a sub-command sharing the parent's organization
// scope and user, with ParentID pointing back at the parent.
func (c Command) ChildCommand(action CommandAction, payload Payload) Command {
	child := NewCommand(action, c.User, payload)
	child.ParentID = c.CommandID
	if child.OrganizationID == "" {
		child.OrganizationID = c.OrganizationID
	}
	return child
}
