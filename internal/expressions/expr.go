package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/orgimpact/internal/store"
	"github.com/rendis/orgimpact/pkg/schema"
)

// Listing is the environment marketplace filters run against, e.g.
// `automationShare > 0.3 && headcount >= 1000` or `domain endsWith ".io"`.
type Listing struct {
	Name              string  `expr:"name"`
	Domain            string  `expr:"domain"`
	Headcount         float64 `expr:"headcount"`
	AutomationShare   float64 `expr:"automationShare"`
	AugmentationShare float64 `expr:"augmentationShare"`
	Nodes             int     `expr:"nodes"`
	Views             int64   `expr:"views"`
}

// ListingOf exposes a stored report's summary and view count to filters.
func ListingOf(r *store.Report) Listing {
	return Listing{
		Name:              r.Summary.Name,
		Domain:            r.Summary.Domain,
		Headcount:         r.Summary.Headcount,
		AutomationShare:   r.Summary.AutomationShare,
		AugmentationShare: r.Summary.AugmentationShare,
		Nodes:             r.Summary.NodeCount,
		Views:             r.Views,
	}
}

// ExprEngine evaluates expr-lang expressions. Generic evaluation compiles
// against the data map; filters compile against Listing and must yield a bool.
// Thread-safe: compiled *vm.Program objects are cached and reused across goroutines.
type ExprEngine struct {
	mu      sync.RWMutex
	cache   map[string]*vm.Program
	filters map[string]*vm.Program
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{
		cache:   make(map[string]*vm.Program),
		filters: make(map[string]*vm.Program),
	}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate compiles (or retrieves from cache) expression and runs it with
// data as the environment.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	env := data
	if env == nil {
		env = map[string]any{}
	}

	prg, err := e.getOrCompile(e.cache, expression, func() (*vm.Program, error) {
		return expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables())
	})
	if err != nil {
		return nil, err
	}
	return run(prg, expression, env)
}

// CompileFilter checks that expression is a valid boolean filter over Listing.
func (e *ExprEngine) CompileFilter(expression string) error {
	_, err := e.filter(expression)
	return err
}

// Match reports whether listing satisfies the filter expression.
func (e *ExprEngine) Match(expression string, listing Listing) (bool, error) {
	prg, err := e.filter(expression)
	if err != nil {
		return false, err
	}
	out, err := run(prg, expression, listing)
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}

func (e *ExprEngine) filter(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty filter expression")
	}
	return e.getOrCompile(e.filters, expression, func() (*vm.Program, error) {
		return expr.Compile(expression, expr.Env(Listing{}), expr.AsBool())
	})
}

func run(prg *vm.Program, expression string, env any) (any, error) {
	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidOption,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// getOrCompile returns a cached program from cache or compiles and caches a new one.
func (e *ExprEngine) getOrCompile(cache map[string]*vm.Program, expression string, compile func() (*vm.Program, error)) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := cache[expression]; ok {
		return prg, nil
	}

	prg, err := compile()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	cache[expression] = prg
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
