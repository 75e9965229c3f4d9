package expressions

import "context"

// Engine evaluates a user-supplied expression against generic data.
// Three implementations: CEL (collapse rules), GoJQ (report projections),
// Expr (marketplace filters).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Set bundles one instance of each engine. Owners (the panel, the MCP server)
// create their own Set; compiled programs are cached per instance.
type Set struct {
	CEL  *CELEngine
	Expr *ExprEngine
	JQ   *GoJQEngine
}

// NewSet creates all three engines.
func NewSet() (*Set, error) {
	c, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Set{CEL: c, Expr: NewExprEngine(), JQ: NewGoJQEngine()}, nil
}

// Lookup returns the engine with the given name.
func (s *Set) Lookup(name string) (Engine, bool) {
	switch name {
	case s.CEL.Name():
		return s.CEL, true
	case s.Expr.Name():
		return s.Expr, true
	case s.JQ.Name():
		return s.JQ, true
	}
	return nil, false
}
