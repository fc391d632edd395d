// Package workflows holds the concrete provisioning plans: which entities
// each command locks and which activities it runs, expressed against
// narrow collaborator interfaces so repositories and cloud bindings stay
// swappable.
package workflows

import (
	"context"

	provision "github.com/goliatone/go-provision"
)

// ProjectStore persists project documents.
type ProjectStore interface {
	Get(ctx context.Context, organizationID, projectID string) (*provision.ProjectDocument, error)
	Add(ctx context.Context, doc provision.ProjectDocument) (*provision.ProjectDocument, error)
	Set(ctx context.Context, doc provision.ProjectDocument) (*provision.ProjectDocument, error)
	Remove(ctx context.Context, organizationID, projectID string) error
	List(ctx context.Context, organizationID string) ([]provision.ProjectDocument, error)
}

// ProviderStore persists provider registrations.
type ProviderStore interface {
	Get(ctx context.Context, organizationID, providerID string) (*provision.ProviderDocument, error)
	Set(ctx context.Context, doc provision.ProviderDocument) (*provision.ProviderDocument, error)
	Remove(ctx context.Context, organizationID, providerID string) error
	List(ctx context.Context, organizationID string) ([]provision.ProviderDocument, error)
}

// TemplateRepository resolves the blueprint a project is created from.
type TemplateRepository interface {
	Get(ctx context.Context, organizationID, templateID string) (*provision.TemplateDocument, error)
}

// ResourceGroups provisions and tears down the project's resource
// container in the cloud.
type ResourceGroups interface {
	Create(ctx context.Context, organizationID, projectID string) (name string, err error)
	Delete(ctx context.Context, name string) error
}

// RoleAssignments grants and revokes principal access on a resource
// container.
type RoleAssignments interface {
	Grant(ctx context.Context, resourceGroup, principalID, role string) error
	RevokeAll(ctx context.Context, resourceGroup string) error
}

// Vaults manages the project's secret store.
type Vaults interface {
	Create(ctx context.Context, organizationID, projectID string) (name string, err error)
	SetPolicy(ctx context.Context, vaultName, principalID string) error
	Delete(ctx context.Context, vaultName string) error
}

// Dependencies bundles everything the provisioning plans touch.
type Dependencies struct {
	Projects  ProjectStore
	Providers ProviderStore
	Templates TemplateRepository
	Groups    ResourceGroups
	Roles     RoleAssignments
	Vaults    Vaults
}
