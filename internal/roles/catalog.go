// Package roles resolves free-form role identifiers (O*NET-SOC codes, code
// prefixes, job titles) into role records and enriches reports with them.
package roles

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rendis/orgimpact/internal/normalize"
	"github.com/rendis/orgimpact/pkg/schema"
)

//go:embed catalog.json
var builtinCatalog []byte

// Catalog is an immutable in-memory O*NET role table indexed by code,
// normalized title and code prefix.
type Catalog struct {
	roles    []schema.Role
	byCode   map[string]int
	byTitle  map[string]int
	byPrefix map[string][]int
}

// NewCatalog indexes roles. Later entries never replace earlier ones with the
// same code or title.
func NewCatalog(roles []schema.Role) *Catalog {
	c := &Catalog{
		byCode:   make(map[string]int, len(roles)),
		byTitle:  make(map[string]int, len(roles)),
		byPrefix: make(map[string][]int),
	}
	for _, r := range roles {
		r = r.Clone()
		normalize.Role(&r)
		code := strings.ToUpper(r.OnetCode)
		if code == "" || !codePattern.MatchString(code) {
			continue
		}
		if _, dup := c.byCode[code]; dup {
			continue
		}
		r.OnetCode = code
		idx := len(c.roles)
		c.roles = append(c.roles, r)
		c.byCode[code] = idx
		if _, ok := c.byTitle[r.NormalizedTitle]; !ok && r.NormalizedTitle != "" {
			c.byTitle[r.NormalizedTitle] = idx
		}
		prefix := code[:7]
		c.byPrefix[prefix] = append(c.byPrefix[prefix], idx)
	}
	for _, idxs := range c.byPrefix {
		sort.SliceStable(idxs, func(i, j int) bool {
			return strings.ToLower(c.roles[idxs[i]].Title) < strings.ToLower(c.roles[idxs[j]].Title)
		})
	}
	return c
}

// LoadCatalog reads a JSON array of roles.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var roles []schema.Role
	if err := json.NewDecoder(r).Decode(&roles); err != nil {
		return nil, fmt.Errorf("decode role catalog: %w", err)
	}
	return NewCatalog(roles), nil
}

// BuiltinCatalog returns a fresh catalog built from the embedded O*NET subset.
func BuiltinCatalog() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(builtinCatalog))
}

// Len returns the number of indexed roles.
func (c *Catalog) Len() int { return len(c.roles) }

// Roles returns copies of every role in catalog order.
func (c *Catalog) Roles() []schema.Role {
	out := make([]schema.Role, len(c.roles))
	for i, r := range c.roles {
		out[i] = r.Clone()
	}
	return out
}

// RoleByCode implements Source.
func (c *Catalog) RoleByCode(_ context.Context, code string) (*schema.Role, error) {
	idx, ok := c.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, nil
	}
	r := c.roles[idx].Clone()
	return &r, nil
}

// RolesByCodePrefix implements Source. Matches are ordered by title, case-insensitively.
func (c *Catalog) RolesByCodePrefix(_ context.Context, prefix string) ([]*schema.Role, error) {
	idxs := c.byPrefix[strings.TrimSpace(prefix)]
	out := make([]*schema.Role, 0, len(idxs))
	for _, idx := range idxs {
		r := c.roles[idx].Clone()
		out = append(out, &r)
	}
	return out, nil
}

// RoleByNormalizedTitle implements Source.
func (c *Catalog) RoleByNormalizedTitle(_ context.Context, title string) (*schema.Role, error) {
	idx, ok := c.byTitle[normalize.Title(title)]
	if !ok {
		return nil, nil
	}
	r := c.roles[idx].Clone()
	return &r, nil
}
