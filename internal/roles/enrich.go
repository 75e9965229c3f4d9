package roles

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rendis/orgimpact/internal/normalize"
	"github.com/rendis/orgimpact/pkg/schema"
)

// Enricher fills in a report's role records from a role store, using a static
// catalog for task-mix data the store lacks.
type Enricher struct {
	store   *Resolver
	catalog *Resolver
	logger  *slog.Logger
}

// NewEnricher wires an enricher. Either source may be nil.
func NewEnricher(store Source, catalog *Catalog, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Enricher{logger: logger}
	if store != nil {
		e.store = NewResolver(store, logger)
	}
	if catalog != nil {
		e.catalog = NewResolver(catalog, logger)
	}
	return e
}

// EnrichStats counts what an enrichment pass did.
type EnrichStats struct {
	Filled     int      `json:"filled"`
	Added      int      `json:"added"`
	Unresolved []string `json:"unresolved,omitempty"`
}

// Enrich returns a copy of report whose roles list covers every identifier the
// report references. Fields already present on a report role are kept; store
// metadata fills what is missing, then catalog task mixes fill what remains.
// Identifiers that resolve nowhere are skipped.
func (e *Enricher) Enrich(ctx context.Context, report *schema.OrgReport) (*schema.OrgReport, EnrichStats) {
	out := report.Clone()
	var stats EnrichStats

	known := make(map[string]int)
	index := func(i int) {
		r := out.Roles[i]
		for _, k := range []string{r.OnetCode, r.NormalizedTitle, r.Title} {
			k = strings.ToLower(strings.TrimSpace(k))
			if _, ok := known[k]; !ok && k != "" {
				known[k] = i
			}
		}
	}

	for i := range out.Roles {
		id := out.Roles[i].OnetCode
		if id == "" {
			id = out.Roles[i].Title
		}
		if resolved, ok := e.resolve(ctx, id); ok {
			if fill(&out.Roles[i], resolved) {
				stats.Filled++
			}
		}
		normalize.Role(&out.Roles[i])
		index(i)
	}

	for _, n := range out.Hierarchy {
		for _, id := range n.DominantRoleIDs {
			key := strings.ToLower(strings.TrimSpace(id))
			if key == "" {
				continue
			}
			if _, ok := known[key]; ok {
				continue
			}
			if _, ok := known[normalize.Title(id)]; ok {
				continue
			}
			resolved, ok := e.resolve(ctx, id)
			if !ok {
				stats.Unresolved = append(stats.Unresolved, id)
				known[key] = -1
				continue
			}
			if i, dup := known[strings.ToLower(resolved.OnetCode)]; dup && i >= 0 {
				known[key] = i
				continue
			}
			normalize.Role(resolved)
			out.Roles = append(out.Roles, *resolved)
			stats.Added++
			index(len(out.Roles) - 1)
			known[key] = len(out.Roles) - 1
		}
	}

	if len(stats.Unresolved) > 0 {
		e.logger.Debug("unresolved role identifiers", "count", len(stats.Unresolved), "ids", stats.Unresolved)
	}
	return out, stats
}

// resolve looks id up in the store, then fills gaps from the catalog entry for
// the same code (or for id itself when the store has nothing).
func (e *Enricher) resolve(ctx context.Context, id string) (*schema.Role, bool) {
	var role *schema.Role
	if e.store != nil {
		if r, ok := e.store.Resolve(ctx, id); ok {
			role = r
		}
	}
	if e.catalog == nil {
		return role, role != nil
	}

	lookup := id
	if role != nil && role.OnetCode != "" {
		lookup = role.OnetCode
	}
	cat, ok := e.catalog.Resolve(ctx, lookup)
	if !ok {
		return role, role != nil
	}
	if role == nil {
		return cat, true
	}
	fill(role, cat)
	return role, true
}

// fill copies into dst every field dst lacks. It reports whether anything changed.
func fill(dst *schema.Role, src *schema.Role) bool {
	changed := false
	setStr := func(d *string, s string) {
		if strings.TrimSpace(*d) == "" && s != "" {
			*d = s
			changed = true
		}
	}
	setStr(&dst.OnetCode, src.OnetCode)
	setStr(&dst.Title, src.Title)
	setStr(&dst.NormalizedTitle, src.NormalizedTitle)
	changed = fillPtr(&dst.ParentCluster, src.ParentCluster) || changed
	changed = fillPtr(&dst.AutomationShare, src.AutomationShare) || changed
	changed = fillPtr(&dst.AugmentationShare, src.AugmentationShare) || changed
	changed = fillPtr(&dst.Headcount, src.Headcount) || changed

	ownCounts := dst.TaskMixCounts != nil
	if src.TaskMixCounts != nil {
		if dst.TaskMixCounts == nil {
			dst.TaskMixCounts = &schema.TaskMixCounts{}
		}
		d, s := dst.TaskMixCounts, src.TaskMixCounts
		// dst's own counts decide manual before the catalog's can fill it.
		normalize.DeriveManual(d)
		changed = fillPtr(&d.Automation, s.Automation) || changed
		changed = fillPtr(&d.Augmentation, s.Augmentation) || changed
		changed = fillPtr(&d.Manual, s.Manual) || changed
		changed = fillPtr(&d.Total, s.Total) || changed
	}

	// Shares follow dst's counts when it brought its own; src shares only
	// describe src's counts.
	if ownCounts && dst.TaskMixShares == nil {
		normalize.DeriveManual(dst.TaskMixCounts)
		if shares := normalize.SharesFromCounts(dst.TaskMixCounts); shares != nil {
			dst.TaskMixShares = shares
			changed = true
		}
		return changed
	}
	if src.TaskMixShares != nil {
		if dst.TaskMixShares == nil {
			dst.TaskMixShares = &schema.TaskMixShares{}
		}
		d, s := dst.TaskMixShares, src.TaskMixShares
		changed = fillPtr(&d.Automation, s.Automation) || changed
		changed = fillPtr(&d.Augmentation, s.Augmentation) || changed
		changed = fillPtr(&d.Manual, s.Manual) || changed
	}
	return changed
}

func fillPtr[T any](dst **T, src *T) bool {
	if *dst != nil || src == nil {
		return false
	}
	v := *src
	*dst = &v
	return true
}
