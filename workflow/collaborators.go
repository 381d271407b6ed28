package workflow

import "context"

// Catalog is the read-only pack catalog.
//
// A pack update is observed as a new template set, never as a mutation of
// an OrgWorkflow.
type Catalog interface {
	// ListPackTemplates returns every template of the given packs.
	// Unknown pack keys contribute nothing.
	ListPackTemplates(ctx context.Context, packKeys []string) ([]PackTemplate, error)
}

// Authorizer answers capability questions for an actor in an organization.
// The engine never inspects roles.
type Authorizer interface {
	HasAdminCapability(ctx context.Context, actorID, orgID string) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, actorID, orgID string) bool

// HasAdminCapability calls f.
func (f AuthorizerFunc) HasAdminCapability(ctx context.Context, actorID, orgID string) bool {
	return f(ctx, actorID, orgID)
}

// StaticAdmins grants admin capability to a fixed set of actor ids in every
// organization.
type StaticAdmins map[string]bool

// NewStaticAdmins builds a StaticAdmins from actor ids.
func NewStaticAdmins(actorIDs ...string) StaticAdmins {
	s := make(StaticAdmins, len(actorIDs))
	for _, id := range actorIDs {
		s[id] = true
	}
	return s
}

// HasAdminCapability reports whether actorID is listed.
func (s StaticAdmins) HasAdminCapability(_ context.Context, actorID, _ string) bool {
	return s[actorID]
}

type denyAll struct{}

func (denyAll) HasAdminCapability(context.Context, string, string) bool { return false }
