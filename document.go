package provision

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// DocumentKind tags the stored form of an entity. The tag doubles as the
// lock key prefix and the expander registry key.
type DocumentKind string

const (
	KindProject      DocumentKind = "project"
	KindProvider     DocumentKind = "provider"
	KindTemplate     DocumentKind = "template"
	KindOrganization DocumentKind = "organization"
	KindUser         DocumentKind = "user"
)

// ProjectDocument is the persisted form of a project. Store-internal
// fields (ETag, Timestamp) never leak into the API snapshot.
type ProjectDocument struct {
	ID             string
	OrganizationID string
	DisplayName    string
	TemplateID     string
	ResourceGroup  string
	VaultName      string
	Users          []UserDocument
	ETag           string
	Timestamp      time.Time
}

// UserDocument is the persisted form of a project member entry.
type UserDocument struct {
	ID         string
	Role       string
	Properties map[string]string
}

// ProviderDocument is the persisted form of a provider registration.
type ProviderDocument struct {
	ID             string
	OrganizationID string
	URL            string
	Events         []string
	PrincipalID    string
	ETag           string
	Timestamp      time.Time
}

// TemplateDocument is the persisted form of a project template.
type TemplateDocument struct {
	ID             string
	OrganizationID string
	Name           string
	Repository     string
	InputSchema    string
	IsDefault      bool
	ETag           string
	Timestamp      time.Time
}

// ProjectFromDocument maps the stored form to the API snapshot. Nested
// collections go through their own mapping functions.
func ProjectFromDocument(doc ProjectDocument) Project {
	p := Project{
		ID:             doc.ID,
		OrganizationID: doc.OrganizationID,
		DisplayName:    doc.DisplayName,
		TemplateID:     doc.TemplateID,
		ResourceGroup:  doc.ResourceGroup,
		VaultName:      doc.VaultName,
	}
	if len(doc.Users) > 0 {
		p.Users = make([]User, 0, len(doc.Users))
		for _, u := range doc.Users {
			p.Users = append(p.Users, UserFromDocument(u))
		}
	}
	return p
}

// ProjectToDocument maps the API snapshot to the stored form, leaving
// store-internal fields zeroed for the repository to fill.
func ProjectToDocument(p Project) ProjectDocument {
	doc := ProjectDocument{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		DisplayName:    p.DisplayName,
		TemplateID:     p.TemplateID,
		ResourceGroup:  p.ResourceGroup,
		VaultName:      p.VaultName,
	}
	if len(p.Users) > 0 {
		doc.Users = make([]UserDocument, 0, len(p.Users))
		for _, u := range p.Users {
			doc.Users = append(doc.Users, UserToDocument(u))
		}
	}
	return doc
}

func UserFromDocument(doc UserDocument) User {
	u := User{ID: doc.ID, Role: doc.Role}
	if len(doc.Properties) > 0 {
		u.Properties = make(map[string]string, len(doc.Properties))
		for k, v := range doc.Properties {
			u.Properties[k] = v
		}
	}
	return u
}

func UserToDocument(u User) UserDocument {
	doc := UserDocument{ID: u.ID, Role: u.Role}
	if len(u.Properties) > 0 {
		doc.Properties = make(map[string]string, len(u.Properties))
		for k, v := range u.Properties {
			doc.Properties[k] = v
		}
	}
	return doc
}

func ProviderFromDocument(doc ProviderDocument) Provider {
	p := Provider{
		ID:             doc.ID,
		OrganizationID: doc.OrganizationID,
		URL:            doc.URL,
		PrincipalID:    doc.PrincipalID,
	}
	if len(doc.Events) > 0 {
		p.Events = append([]string(nil), doc.Events...)
	}
	return p
}

func ProviderToDocument(p Provider) ProviderDocument {
	doc := ProviderDocument{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		URL:            p.URL,
		PrincipalID:    p.PrincipalID,
	}
	if len(p.Events) > 0 {
		doc.Events = append([]string(nil), p.Events...)
	}
	return doc
}

func TemplateFromDocument(doc TemplateDocument) ProjectTemplate {
	return ProjectTemplate{
		ID:             doc.ID,
		OrganizationID: doc.OrganizationID,
		Name:           doc.Name,
		Repository:     doc.Repository,
		InputSchema:    doc.InputSchema,
		IsDefault:      doc.IsDefault,
	}
}

func TemplateToDocument(t ProjectTemplate) TemplateDocument {
	return TemplateDocument{
		ID:             t.ID,
		OrganizationID: t.OrganizationID,
		Name:           t.Name,
		Repository:     t.Repository,
		InputSchema:    t.InputSchema,
		IsDefault:      t.IsDefault,
	}
}

// ExpanderFunc enriches a snapshot with linked data (membership, links)
// before it is returned to callers.
type ExpanderFunc func(ctx context.Context, payload Payload) (Payload, error)

// ExpanderRegistry maps a document kind to its expander. Populated once at
// startup and read-only afterwards; lookups are by tag, never by type
// inspection.
type ExpanderRegistry struct {
	mu        sync.RWMutex
	expanders map[DocumentKind]ExpanderFunc
	sealed    bool
}

// NewExpanderRegistry constructs an empty registry.
func NewExpanderRegistry() *ExpanderRegistry {
	return &ExpanderRegistry{expanders: make(map[DocumentKind]ExpanderFunc)}
}

// Register binds an expander to a kind. Duplicate or post-seal registration
// is a conflict.
func (r *ExpanderRegistry) Register(kind DocumentKind, fn ExpanderFunc) error {
	if fn == nil {
		return errors.New("expander cannot be nil", errors.CategoryBadInput).
			WithTextCode("NIL_EXPANDER")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return errors.New("expander registry already sealed", errors.CategoryConflict).
			WithTextCode("REGISTRY_SEALED")
	}
	if _, exists := r.expanders[kind]; exists {
		return errors.New("expander already registered", errors.CategoryConflict).
			WithTextCode("DUPLICATE_EXPANDER").
			WithMetadata(map[string]any{"kind": string(kind)})
	}
	r.expanders[kind] = fn
	return nil
}

// Seal freezes the registry; call after startup wiring completes.
func (r *ExpanderRegistry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Expand applies the registered expander for the payload's kind, passing
// the payload through untouched when no expander is bound.
func (r *ExpanderRegistry) Expand(ctx context.Context, payload Payload) (Payload, error) {
	if payload == nil {
		return nil, nil
	}
	r.mu.RLock()
	fn := r.expanders[payload.Kind()]
	r.mu.RUnlock()
	if fn == nil {
		return payload, nil
	}
	return fn(ctx, payload)
}
