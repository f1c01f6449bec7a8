// Package condition evaluates restricted, side-effect-free expressions over
// a key-value environment. Expressions can compare values, combine them
// with boolean and arithmetic operators, index into maps and lists and
// call len, sum, any, all, min and max. Nothing else is reachable.
package condition

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownFunction is returned when an expression calls a function outside the whitelist
var ErrUnknownFunction = errors.New("unknown function")

const maxCachedPrograms = 1024

// Program is a compiled expression
type Program struct {
	source string
	root   node
}

// Compile parses an expression
func Compile(expr string) (*Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}
	root, err := parse(expr)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, err)
	}
	return &Program{source: expr, root: root}, nil
}

// String returns the expression source
func (p *Program) String() string {
	return p.source
}

// Eval evaluates the program against env
func (p *Program) Eval(env map[string]interface{}) (interface{}, error) {
	v, err := eval(p.root, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", p.source, err)
	}
	return v, nil
}

// EvalBool evaluates the program and interprets the result as a boolean
func (p *Program) EvalBool(env map[string]interface{}) (bool, error) {
	v, err := p.Eval(env)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Evaluator compiles expressions once and caches the programs
type Evaluator struct {
	programs map[string]*Program
	mu       sync.RWMutex
}

// NewEvaluator creates a new evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{
		programs: make(map[string]*Program),
	}
}

// Compile returns the cached program for expr, compiling it on first use
func (e *Evaluator) Compile(expr string) (*Program, error) {
	e.mu.RLock()
	p, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := Compile(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if len(e.programs) >= maxCachedPrograms {
		e.programs = make(map[string]*Program)
	}
	e.programs[expr] = p
	e.mu.Unlock()

	return p, nil
}

// Evaluate compiles (or reuses) expr and evaluates it as a boolean
func (e *Evaluator) Evaluate(expr string, env map[string]interface{}) (bool, error) {
	p, err := e.Compile(expr)
	if err != nil {
		return false, err
	}
	return p.EvalBool(env)
}
