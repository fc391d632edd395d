package workflows

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	provision "github.com/goliatone/go-provision"
)

// MemoryProjects is an in-memory ProjectStore for tests and demos.
type MemoryProjects struct {
	mu   sync.RWMutex
	docs map[string]provision.ProjectDocument
}

func NewMemoryProjects() *MemoryProjects {
	return &MemoryProjects{docs: make(map[string]provision.ProjectDocument)}
}

func docKey(organizationID, id string) string {
	return strings.TrimSpace(organizationID) + "/" + strings.TrimSpace(id)
}

func (s *MemoryProjects) Get(_ context.Context, organizationID, projectID string) (*provision.ProjectDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[docKey(organizationID, projectID)]
	if !ok {
		return nil, provision.CloneError(provision.ErrNotFound, "project not found", nil, map[string]any{
			"project_id": projectID,
		})
	}
	return &doc, nil
}

func (s *MemoryProjects) Add(_ context.Context, doc provision.ProjectDocument) (*provision.ProjectDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey(doc.OrganizationID, doc.ID)
	if _, exists := s.docs[key]; exists {
		return nil, errors.New("project already exists", errors.CategoryConflict).
			WithTextCode("DUPLICATE_DOCUMENT").
			WithMetadata(map[string]any{"project_id": doc.ID})
	}
	doc.ETag = uuid.NewString()
	doc.Timestamp = time.Now().UTC()
	s.docs[key] = doc
	return &doc, nil
}

func (s *MemoryProjects) Set(_ context.Context, doc provision.ProjectDocument) (*provision.ProjectDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey(doc.OrganizationID, doc.ID)
	if _, exists := s.docs[key]; !exists {
		return nil, provision.CloneError(provision.ErrNotFound, "project not found", nil, map[string]any{
			"project_id": doc.ID,
		})
	}
	doc.ETag = uuid.NewString()
	doc.Timestamp = time.Now().UTC()
	s.docs[key] = doc
	return &doc, nil
}

func (s *MemoryProjects) Remove(_ context.Context, organizationID, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey(organizationID, projectID)
	if _, exists := s.docs[key]; !exists {
		return provision.CloneError(provision.ErrNotFound, "project not found", nil, map[string]any{
			"project_id": projectID,
		})
	}
	delete(s.docs, key)
	return nil
}

func (s *MemoryProjects) List(_ context.Context, organizationID string) ([]provision.ProjectDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []provision.ProjectDocument
	for _, doc := range s.docs {
		if doc.OrganizationID == organizationID {
			out = append(out, doc)
		}
	}
	return out, nil
}

// MemoryProviders is an in-memory ProviderStore.
type MemoryProviders struct {
	mu   sync.RWMutex
	docs map[string]provision.ProviderDocument
}

func NewMemoryProviders() *MemoryProviders {
	return &MemoryProviders{docs: make(map[string]provision.ProviderDocument)}
}

func (s *MemoryProviders) Get(_ context.Context, organizationID, providerID string) (*provision.ProviderDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[docKey(organizationID, providerID)]
	if !ok {
		return nil, provision.CloneError(provision.ErrNotFound, "provider not found", nil, map[string]any{
			"provider_id": providerID,
		})
	}
	return &doc, nil
}

func (s *MemoryProviders) Set(_ context.Context, doc provision.ProviderDocument) (*provision.ProviderDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.ETag = uuid.NewString()
	doc.Timestamp = time.Now().UTC()
	s.docs[docKey(doc.OrganizationID, doc.ID)] = doc
	return &doc, nil
}

func (s *MemoryProviders) Remove(_ context.Context, organizationID, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey(organizationID, providerID)
	if _, exists := s.docs[key]; !exists {
		return provision.CloneError(provision.ErrNotFound, "provider not found", nil, map[string]any{
			"provider_id": providerID,
		})
	}
	delete(s.docs, key)
	return nil
}

func (s *MemoryProviders) List(_ context.Context, organizationID string) ([]provision.ProviderDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []provision.ProviderDocument
	for _, doc := range s.docs {
		if doc.OrganizationID == organizationID {
			out = append(out, doc)
		}
	}
	return out, nil
}

// MemoryTemplates is an in-memory TemplateRepository.
type MemoryTemplates struct {
	mu   sync.RWMutex
	docs map[string]provision.TemplateDocument
}

func NewMemoryTemplates() *MemoryTemplates {
	return &MemoryTemplates{docs: make(map[string]provision.TemplateDocument)}
}

func (s *MemoryTemplates) Put(doc provision.TemplateDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docKey(doc.OrganizationID, doc.ID)] = doc
}

func (s *MemoryTemplates) Get(_ context.Context, organizationID, templateID string) (*provision.TemplateDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[docKey(organizationID, templateID)]
	if !ok {
		return nil, provision.CloneError(provision.ErrNotFound, "template not found", nil, map[string]any{
			"template_id": templateID,
		})
	}
	return &doc, nil
}

// FakeCloud implements the cloud capability interfaces with recorded
// calls, enough to run provisioning plans end to end without a cloud.
type FakeCloud struct {
	mu     sync.Mutex
	groups map[string]bool
	grants map[string][]string
}

func NewFakeCloud() *FakeCloud {
	return &FakeCloud{
		groups: make(map[string]bool),
		grants: make(map[string][]string),
	}
}

func (f *FakeCloud) Create(ctx context.Context, organizationID, projectID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := fmt.Sprintf("rg-%s-%s", organizationID, projectID)
	f.groups[name] = true
	return name, nil
}

func (f *FakeCloud) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups, name)
	delete(f.grants, name)
	return nil
}

func (f *FakeCloud) Grant(ctx context.Context, resourceGroup, principalID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[resourceGroup] = append(f.grants[resourceGroup], principalID+":"+role)
	return nil
}

func (f *FakeCloud) RevokeAll(ctx context.Context, resourceGroup string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.grants, resourceGroup)
	return nil
}

// Grants lists recorded role assignments for a resource group.
func (f *FakeCloud) Grants(resourceGroup string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.grants[resourceGroup]...)
}

// HasGroup reports whether a resource group currently exists.
func (f *FakeCloud) HasGroup(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups[name]
}

// FakeVaults implements Vaults against the same recording style.
type FakeVaults struct {
	mu       sync.Mutex
	vaults   map[string]bool
	policies map[string][]string
}

func NewFakeVaults() *FakeVaults {
	return &FakeVaults{vaults: make(map[string]bool), policies: make(map[string][]string)}
}

func (f *FakeVaults) Create(ctx context.Context, organizationID, projectID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := fmt.Sprintf("kv-%s-%s", organizationID, projectID)
	f.vaults[name] = true
	return name, nil
}

func (f *FakeVaults) SetPolicy(ctx context.Context, vaultName, principalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policies[vaultName] = append(f.policies[vaultName], principalID)
	return nil
}

func (f *FakeVaults) Delete(ctx context.Context, vaultName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vaults, vaultName)
	delete(f.policies, vaultName)
	return nil
}

// HasVault reports whether a vault currently exists.
func (f *FakeVaults) HasVault(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vaults[name]
}

// Policies lists recorded access policies for a vault.
func (f *FakeVaults) Policies(vaultName string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.policies[vaultName]...)
}

// MemoryDependencies wires every collaborator to its in-memory double.
func MemoryDependencies() (Dependencies, *MemoryProjects, *MemoryProviders, *MemoryTemplates, *FakeCloud, *FakeVaults) {
	projects := NewMemoryProjects()
	providers := NewMemoryProviders()
	templates := NewMemoryTemplates()
	cloud := NewFakeCloud()
	vaults := NewFakeVaults()
	deps := Dependencies{
		Projects:  projects,
		Providers: providers,
		Templates: templates,
		Groups:    cloud,
		Roles:     cloud,
		Vaults:    vaults,
	}
	return deps, projects, providers, templates, cloud, vaults
}
