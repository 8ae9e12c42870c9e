// Package expr implements the expression-language contract of SPEC_FULL.md
// §4.9/§6: a minimal grammar for key/condition/TTL derivation, evaluated
// against a call's arguments by parameter name.
//
// Grammar (grounded on the reduced subset of SpelUtils.java that the
// descriptors in this codebase actually exercise):
//
//	expr       := ternary
//	ternary    := or ( '?' expr ':' expr )?
//	or         := and ( '||' and )*
//	and        := equality ( '&&' equality )*
//	equality   := relational ( ('=='|'!=') relational )*
//	relational := additive ( ('<'|'<='|'>'|'>=') additive )*
//	additive   := unary ( '+' unary )*
//	unary      := '!' unary | primary
//	primary    := '(' expr ')' | literal | variable ( accessor )*
//	accessor   := '.' IDENT ( '(' ')' )?
//	variable   := '#' IDENT
//
// No precedence is given to '-', '*', '/': the descriptors this engine
// supports (key/condition/TTL strings) never need arithmetic beyond the
// string/number concatenation the source's SpEL usage shows.
package expr

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// Evaluator turns an expression string into a value against a variable
// context. It is the injected dependency named in SPEC_FULL.md §6.
type Evaluator interface {
	Eval(expression string, vars map[string]any) (any, error)
	EvalBool(expression string, vars map[string]any) (bool, error)
	EvalString(expression string, vars map[string]any) (string, error)
	// EvalInt64 additionally reports whether the expression produced a
	// numeric value at all (false => expression was empty, or its value is
	// neither a number nor a numeric string), distinguishing "no usable
	// value" from "expression evaluated to zero".
	EvalInt64(expression string, vars map[string]any) (int64, bool, error)
	// ReferencesVar reports whether the expression textually references
	// "#name" — used by the batch engine's pivot detection (§4.7 step 1).
	ReferencesVar(expression, name string) bool
}

// Default is the built-in Evaluator. The zero value is ready to use; parsed
// expressions are memoized by source string, mirroring the descriptor
// cache's insert-once amortization strategy (grounded on SpelUtils's
// expressionCache).
type Default struct {
	cache sync.Map // string -> *node
}

var _ Evaluator = (*Default)(nil)

func (d *Default) parse(expression string) (*node, error) {
	if v, ok := d.cache.Load(expression); ok {
		return v.(*node), nil
	}
	n, err := parse(expression)
	if err != nil {
		return nil, err
	}
	actual, _ := d.cache.LoadOrStore(expression, n)
	return actual.(*node), nil
}

func (d *Default) Eval(expression string, vars map[string]any) (any, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, nil
	}
	n, err := d.parse(expression)
	if err != nil {
		return nil, fmt.Errorf("expr: parse %q: %w", expression, err)
	}
	return n.eval(vars)
}

func (d *Default) EvalBool(expression string, vars map[string]any) (bool, error) {
	v, err := d.Eval(expression, vars)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func (d *Default) EvalString(expression string, vars map[string]any) (string, error) {
	v, err := d.Eval(expression, vars)
	if err != nil {
		return "", err
	}
	return toString(v), nil
}

func (d *Default) EvalInt64(expression string, vars map[string]any) (int64, bool, error) {
	if strings.TrimSpace(expression) == "" {
		return 0, false, nil
	}
	v, err := d.Eval(expression, vars)
	if err != nil {
		return 0, false, err
	}
	i, ok := toInt64(v)
	return i, ok, nil
}

func (d *Default) ReferencesVar(expression, name string) bool {
	return strings.Contains(expression, "#"+name)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	default:
		i, ok := toInt64(v)
		return !ok || i != 0
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func toInt64(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float()), true
	case reflect.String:
		i, err := strconv.ParseInt(rv.String(), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
