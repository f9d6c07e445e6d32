package config

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// PredicateEnv is what an enabled expression can see.
type PredicateEnv struct {
	Authenticated bool
	Loading       bool
	Status        string
}

func (e PredicateEnv) vars() map[string]any {
	return map[string]any{
		"authenticated": e.Authenticated,
		"loading":       e.Loading,
		"status":        e.Status,
	}
}

// Predicate is a compiled boolean expression gating a watch.
type Predicate struct {
	source  string
	program *exprvm.Program
}

// CompilePredicate compiles src against the PredicateEnv variables. Unknown
// identifiers are compile errors.
func CompilePredicate(src string) (*Predicate, error) {
	program, err := exprlang.Compile(src,
		exprlang.Env(PredicateEnv{}.vars()),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile enabled %q: %w", src, err)
	}
	return &Predicate{source: src, program: program}, nil
}

// Source returns the expression text.
func (p *Predicate) Source() string { return p.source }

// Eval runs the predicate. A nil predicate is always true.
func (p *Predicate) Eval(env PredicateEnv) (bool, error) {
	if p == nil {
		return true, nil
	}
	out, err := exprlang.Run(p.program, env.vars())
	if err != nil {
		return false, fmt.Errorf("eval enabled %q: %w", p.source, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}
