package workflows

import (
	"context"

	"github.com/goliatone/go-errors"
	provision "github.com/goliatone/go-provision"
	"github.com/goliatone/go-provision/orchestrator"
)

// createState carries values produced by earlier stages into later ones.
// Parallel steps write disjoint fields.
type createState struct {
	template      provision.TemplateDocument
	resourceGroup string
	vaultName     string
}

// ProjectCreatePlan builds the orchestration for a project-create command.
// The template is resolved here, before the plan runs: a missing blueprint
// rejects the command without ever taking the project lock.
func ProjectCreatePlan(ctx context.Context, deps Dependencies, cmd provision.Command) (orchestrator.Plan, error) {
	project, err := projectOf(cmd)
	if err != nil {
		return orchestrator.Plan{}, err
	}

	tmpl, err := deps.Templates.Get(ctx, project.OrganizationID, project.TemplateID)
	if err != nil {
		return orchestrator.Plan{}, errors.Wrap(err, errors.CategoryBadInput, "project template unavailable").
			WithTextCode(provision.ErrCodeNotFound).
			WithMetadata(map[string]any{
				"template_id": project.TemplateID,
				"project_id":  project.ID,
			})
	}

	state := &createState{template: *tmpl}

	return orchestrator.Plan{
		Name: "project_create",
		Stages: []orchestrator.Stage{
			{Name: "persist", Steps: []orchestrator.Step{{
				Name:   "project_add",
				Status: "creating project document",
				Run: func(ctx context.Context, oc *orchestrator.Context) error {
					if err := oc.RequireLock(provision.KindProject, project.ID); err != nil {
						return err
					}
					_, err := deps.Projects.Add(ctx, provision.ProjectToDocument(project))
					return err
				},
			}}},
			{Name: "infrastructure", Steps: []orchestrator.Step{
				{
					Name:   "resource_group_create",
					Status: "provisioning resource group",
					Run: func(ctx context.Context, oc *orchestrator.Context) error {
						name, err := deps.Groups.Create(ctx, project.OrganizationID, project.ID)
						if err != nil {
							return err
						}
						state.resourceGroup = name
						return nil
					},
				},
				{
					Name:   "vault_create",
					Status: "provisioning key vault",
					Run: func(ctx context.Context, oc *orchestrator.Context) error {
						name, err := deps.Vaults.Create(ctx, project.OrganizationID, project.ID)
						if err != nil {
							return err
						}
						state.vaultName = name
						return nil
					},
				},
			}},
			{Name: "access", Steps: []orchestrator.Step{
				{
					Name:   "role_assignment_add",
					Status: "granting member access",
					Run: func(ctx context.Context, oc *orchestrator.Context) error {
						for _, member := range memberList(project, cmd.User) {
							if err := deps.Roles.Grant(ctx, state.resourceGroup, member.ID, member.Role); err != nil {
								return err
							}
						}
						return nil
					},
				},
				{
					Name:   "vault_policy_set",
					Status: "granting vault access",
					Run: func(ctx context.Context, oc *orchestrator.Context) error {
						providers, err := deps.Providers.List(ctx, project.OrganizationID)
						if err != nil {
							return err
						}
						for _, p := range providers {
							if p.PrincipalID == "" {
								continue
							}
							if err := deps.Vaults.SetPolicy(ctx, state.vaultName, p.PrincipalID); err != nil {
								return err
							}
						}
						return nil
					},
				},
			}},
			{Name: "publish", Steps: []orchestrator.Step{{
				Name:   "project_set",
				Status: "publishing project",
				Run: func(ctx context.Context, oc *orchestrator.Context) error {
					if err := oc.RequireLock(provision.KindProject, project.ID); err != nil {
						return err
					}
					doc, err := deps.Projects.Get(ctx, project.OrganizationID, project.ID)
					if err != nil {
						return err
					}
					doc.ResourceGroup = state.resourceGroup
					doc.VaultName = state.vaultName
					updated, err := deps.Projects.Set(ctx, *doc)
					if err != nil {
						return err
					}
					oc.SetResult(provision.ProjectFromDocument(*updated))
					return nil
				},
			}}},
		},
	}, nil
}

// ProjectDeletePlan tears a project down in reverse order of creation. The
// project must exist; the lookup happens under the lock so a concurrent
// delete serializes instead of double-deleting.
func ProjectDeletePlan(deps Dependencies, cmd provision.Command) (orchestrator.Plan, error) {
	project, err := projectOf(cmd)
	if err != nil {
		return orchestrator.Plan{}, err
	}

	var doc provision.ProjectDocument

	return orchestrator.Plan{
		Name: "project_delete",
		Stages: []orchestrator.Stage{
			{Name: "resolve", Steps: []orchestrator.Step{{
				Name:   "project_get",
				Status: "resolving project",
				Run: func(ctx context.Context, oc *orchestrator.Context) error {
					if err := oc.RequireLock(provision.KindProject, project.ID); err != nil {
						return err
					}
					got, err := deps.Projects.Get(ctx, project.OrganizationID, project.ID)
					if err != nil {
						return err
					}
					doc = *got
					return nil
				},
			}}},
			{Name: "teardown_access", Steps: []orchestrator.Step{
				{
					Name:   "role_assignment_revoke",
					Status: "revoking member access",
					Run: func(ctx context.Context, oc *orchestrator.Context) error {
						if doc.ResourceGroup == "" {
							return nil
						}
						return deps.Roles.RevokeAll(ctx, doc.ResourceGroup)
					},
				},
				{
					Name:   "vault_delete",
					Status: "deleting key vault",
					Run: func(ctx context.Context, oc *orchestrator.Context) error {
						if doc.VaultName == "" {
							return nil
						}
						return deps.Vaults.Delete(ctx, doc.VaultName)
					},
				},
			}},
			{Name: "teardown_infra", Steps: []orchestrator.Step{{
				Name:   "resource_group_delete",
				Status: "deleting resource group",
				Run: func(ctx context.Context, oc *orchestrator.Context) error {
					if doc.ResourceGroup == "" {
						return nil
					}
					return deps.Groups.Delete(ctx, doc.ResourceGroup)
				},
			}}},
			{Name: "remove", Steps: []orchestrator.Step{{
				Name:   "project_remove",
				Status: "removing project document",
				Run: func(ctx context.Context, oc *orchestrator.Context) error {
					if err := oc.RequireLock(provision.KindProject, project.ID); err != nil {
						return err
					}
					if err := deps.Projects.Remove(ctx, project.OrganizationID, project.ID); err != nil {
						return err
					}
					oc.SetResult(provision.ProjectFromDocument(doc))
					return nil
				},
			}}},
		},
	}, nil
}

// ProviderDeletePlan removes a provider registration and drops its vault
// access from every project in the organization.
func ProviderDeletePlan(deps Dependencies, cmd provision.Command) (orchestrator.Plan, error) {
	provider, ok := cmd.Payload.(provision.Provider)
	if !ok {
		return orchestrator.Plan{}, errors.New("command payload is not a provider", errors.CategoryValidation).
			WithTextCode(provision.ErrCodeValidation)
	}

	var doc provision.ProviderDocument

	return orchestrator.Plan{
		Name: "provider_delete",
		Stages: []orchestrator.Stage{
			{Name: "resolve", Steps: []orchestrator.Step{{
				Name:   "provider_get",
				Status: "resolving provider",
				Run: func(ctx context.Context, oc *orchestrator.Context) error {
					if err := oc.RequireLock(provision.KindProvider, provider.ID); err != nil {
						return err
					}
					got, err := deps.Providers.Get(ctx, provider.OrganizationID, provider.ID)
					if err != nil {
						return err
					}
					doc = *got
					return nil
				},
			}}},
			{Name: "remove", Steps: []orchestrator.Step{{
				Name:   "provider_remove",
				Status: "removing provider registration",
				Run: func(ctx context.Context, oc *orchestrator.Context) error {
					if err := oc.RequireLock(provision.KindProvider, provider.ID); err != nil {
						return err
					}
					if err := deps.Providers.Remove(ctx, provider.OrganizationID, provider.ID); err != nil {
						return err
					}
					oc.SetResult(provision.ProviderFromDocument(doc))
					return nil
				},
			}}},
		},
	}, nil
}

func projectOf(cmd provision.Command) (provision.Project, error) {
	project, ok := cmd.Payload.(provision.Project)
	if !ok {
		return provision.Project{}, errors.New("command payload is not a project", errors.CategoryValidation).
			WithTextCode(provision.ErrCodeValidation)
	}
	return project, nil
}

// memberList merges the declared project members with the command
// initiator, who always gets owner access.
func memberList(project provision.Project, initiator provision.User) []provision.User {
	members := make([]provision.User, 0, len(project.Users)+1)
	seen := map[string]bool{}
	if initiator.ID != "" {
		role := initiator.Role
		if role == "" {
			role = "owner"
		}
		members = append(members, provision.User{ID: initiator.ID, Role: role})
		seen[initiator.ID] = true
	}
	for _, u := range project.Users {
		if seen[u.ID] {
			continue
		}
		members = append(members, u)
		seen[u.ID] = true
	}
	return members
}
