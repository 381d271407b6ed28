package pack

import (
	"context"
	"fmt"
	"sort"

	"github.com/dshills/opsflow/workflow"
)

// Catalog is an immutable in-memory pack catalog.
type Catalog struct {
	packs map[string]Pack
	keys  []string
}

// NewCatalog builds a catalog. Pack keys must be unique.
func NewCatalog(packs ...Pack) (*Catalog, error) {
	c := &Catalog{packs: make(map[string]Pack, len(packs))}
	for _, p := range packs {
		if _, dup := c.packs[p.Key]; dup {
			return nil, fmt.Errorf("pack: duplicate pack key %q", p.Key)
		}
		c.packs[p.Key] = p
		c.keys = append(c.keys, p.Key)
	}
	sort.Strings(c.keys)
	return c, nil
}

// With returns a new catalog holding c's packs plus extra. A pack in extra
// replaces a pack of c with the same key.
func (c *Catalog) With(extra ...Pack) *Catalog {
	merged := make(map[string]Pack, len(c.packs)+len(extra))
	for k, p := range c.packs {
		merged[k] = p
	}
	for _, p := range extra {
		merged[p.Key] = p
	}
	out := &Catalog{packs: merged}
	for k := range merged {
		out.keys = append(out.keys, k)
	}
	sort.Strings(out.keys)
	return out
}

// Keys returns the pack keys in sorted order.
func (c *Catalog) Keys() []string {
	return append([]string(nil), c.keys...)
}

// Pack returns the pack with key.
func (c *Catalog) Pack(key string) (Pack, bool) {
	p, ok := c.packs[key]
	return p, ok
}

// ListPackTemplates returns the templates of the given packs in request
// order. Unknown keys contribute nothing.
func (c *Catalog) ListPackTemplates(ctx context.Context, packKeys []string) ([]workflow.PackTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []workflow.PackTemplate
	seen := make(map[string]bool, len(packKeys))
	for _, key := range packKeys {
		if seen[key] {
			continue
		}
		seen[key] = true
		p, ok := c.packs[key]
		if !ok {
			continue
		}
		for _, t := range p.Templates {
			t.EditableFields = append([]workflow.FieldName(nil), t.EditableFields...)
			t.Steps = append([]workflow.StepSpec(nil), t.Steps...)
			out = append(out, t)
		}
	}
	return out, nil
}

var _ workflow.Catalog = (*Catalog)(nil)
