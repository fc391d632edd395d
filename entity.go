package provision

// User identifies the initiator of a command or a project member.
type User struct {
	ID         string            `json:"id" yaml:"id"`
	Role       string            `json:"role,omitempty" yaml:"role,omitempty"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Project is the API-facing snapshot of a provisioned project.
type Project struct {
	ID             string `json:"id" yaml:"id"`
	OrganizationID string `json:"organization_id" yaml:"organization_id"`
	DisplayName    string `json:"display_name" yaml:"display_name"`
	TemplateID     string `json:"template_id" yaml:"template_id"`
	ResourceGroup  string `json:"resource_group,omitempty" yaml:"resource_group,omitempty"`
	VaultName      string `json:"vault_name,omitempty" yaml:"vault_name,omitempty"`
	Users          []User `json:"users,omitempty" yaml:"users,omitempty"`
}

func (p Project) Kind() DocumentKind { return KindProject }
func (p Project) EntityID() string { return p.ID }
func (p Project) Organization() string { return p.OrganizationID }

// Provider is the snapshot of a registered resource provider.
type Provider struct {
	ID             string   `json:"id" yaml:"id"`
	OrganizationID string   `json:"organization_id" yaml:"organization_id"`
	URL            string   `json:"url" yaml:"url"`
	Events         []string `json:"events,omitempty" yaml:"events,omitempty"`
	PrincipalID    string   `json:"principal_id,omitempty" yaml:"principal_id,omitempty"`
}

func (p Provider) Kind() DocumentKind { return KindProvider }
func (p Provider) EntityID() string { return p.ID }
func (p Provider) Organization() string { return p.OrganizationID }

// ProjectTemplate describes the blueprint a project is created from.
type ProjectTemplate struct {
	ID             string `json:"id" yaml:"id"`
	OrganizationID string `json:"organization_id" yaml:"organization_id"`
	Name           string `json:"name" yaml:"name"`
	Repository     string `json:"repository,omitempty" yaml:"repository,omitempty"`
	InputSchema    string `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	IsDefault      bool   `json:"is_default,omitempty" yaml:"is_default,omitempty"`
}

func (t ProjectTemplate) Kind() DocumentKind { return KindTemplate }
func (t ProjectTemplate) EntityID() string { return t.ID }
func (t ProjectTemplate) Organization() string { return t.OrganizationID }
