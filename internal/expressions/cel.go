package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rendis/orgimpact/internal/orggraph"
	"github.com/rendis/orgimpact/pkg/schema"
)

// CELEngine evaluates auto-collapse rules against org units.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a CEL engine whose environment exposes:
//   - node:   map(string, dyn), the org unit under test (see NodeVars)
//   - report: map(string, dyn), report-level values such as companyName
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("node", mapType),
		cel.Variable("report", mapType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate compiles (or retrieves from cache) expression and evaluates it
// against data. Missing variables default to empty maps.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(buildActivation(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidOption,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out.Value(), nil
}

// Compile checks that rule parses and type-checks.
func (e *CELEngine) Compile(rule string) error {
	if rule == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}
	_, err := e.getOrCompile(rule)
	return err
}

// NodePredicate compiles rule into a predicate over graph nodes. A node
// matches when the rule yields true; evaluation errors and non-boolean
// results count as no match, so `node.headcount < 5` simply skips nodes
// without a headcount.
func (e *CELEngine) NodePredicate(rule string, report map[string]any) (func(n *orggraph.Node) bool, error) {
	if err := e.Compile(rule); err != nil {
		return nil, err
	}
	return func(n *orggraph.Node) bool {
		out, err := e.Evaluate(context.Background(), rule, map[string]any{
			"node":   NodeVars(n),
			"report": report,
		})
		if err != nil {
			return false
		}
		b, ok := out.(bool)
		return ok && b
	}, nil
}

// NodeVars exposes a graph node to rules. Unknown metrics are left out of the
// map so rules can test them with has().
func NodeVars(n *orggraph.Node) map[string]any {
	roles := make([]string, 0, len(n.Source.DominantRoles))
	for _, r := range n.Source.DominantRoles {
		roles = append(roles, r.ID)
	}
	vars := map[string]any{
		"id":          n.Source.ID,
		"name":        n.Source.Name,
		"depth":       int64(n.Depth),
		"children":    int64(len(n.Children)),
		"descendants": int64(n.Aggregate.DescendantCount),
		"roles":       roles,
	}
	if hc := n.Aggregate.Headcount; hc != nil {
		vars["headcount"] = *hc
	}
	if s := n.Aggregate.AutomationShare; s != nil {
		vars["automationShare"] = *s
	}
	if s := n.Aggregate.AugmentationShare; s != nil {
		vars["augmentationShare"] = *s
	}
	return vars
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

func buildActivation(data map[string]any) map[string]any {
	activation := make(map[string]any, 2)
	for _, key := range []string{"node", "report"} {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	return activation
}

var _ Engine = (*CELEngine)(nil)
