package provision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandFillsIdentityFromPayload(t *testing.T) {
	user := User{ID: "u-1", Role: "owner"}
	cmd := NewCommand(ActionCreate, user, Project{
		ID:             "p-1",
		OrganizationID: "org-1",
		DisplayName:    "Demo",
		TemplateID:     "tmpl-1",
	})

	assert.NotEmpty(t, cmd.CommandID)
	assert.Equal(t, "org-1", cmd.OrganizationID)
	assert.Equal(t, "p-1", cmd.ProjectID)
	assert.Equal(t, "project::create", cmd.Type())
	assert.False(t, cmd.CreatedAt.IsZero())

	kind, id := cmd.Target()
	assert.Equal(t, KindProject, kind)
	assert.Equal(t, "p-1", id)

	require.NoError(t, cmd.Validate())
}

func TestNewCommandProviderPayloadLeavesProjectEmpty(t *testing.T) {
	cmd := NewCommand(ActionDelete, User{ID: "u-1"}, Provider{ID: "azure", OrganizationID: "org-1"})
	assert.Empty(t, cmd.ProjectID)
	assert.Equal(t, "provider::delete", cmd.Type())
}

func TestCommandValidateRejections(t *testing.T) {
	valid := NewCommand(ActionCreate, User{ID: "u-1"}, Project{ID: "p-1", OrganizationID: "org-1"})

	cases := []struct {
		name   string
		mutate func(*Command)
	}{
		{"missing id", func(c *Command) { c.CommandID = "" }},
		{"missing user", func(c *Command) { c.User = User{} }},
		{"missing payload", func(c *Command) { c.Payload = nil }},
		{"bad action", func(c *Command) { c.Action = CommandAction("explode") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := valid
			tc.mutate(&cmd)
			err := cmd.Validate()
			require.Error(t, err)
			assert.Equal(t, ErrCodeValidation, ErrorCode(err))
		})
	}
}

func TestChildCommandInheritsLineage(t *testing.T) {
	parent := NewCommand(ActionCreate, User{ID: "u-1"}, Project{ID: "p-1", OrganizationID: "org-1"})
	child := parent.ChildCommand(ActionCreate, Provider{ID: "azure", OrganizationID: "org-1"})

	assert.Equal(t, parent.CommandID, child.ParentID)
	assert.NotEqual(t, parent.CommandID, child.CommandID)
	assert.Equal(t, parent.User, child.User)
	assert.Equal(t, "org-1", child.OrganizationID)
	require.NoError(t, child.Validate())
}
