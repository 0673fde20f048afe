package trigger

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
)

// Filter is a compiled CEL expression gating a trigger. It is
// evaluated against the values extracted from the event and the event
// source's metadata; a false result skips dispatch without error.
type Filter struct {
	source  string
	program cel.Program

	// Keys the expression looks up in each map. CEL treats indexing an
	// absent key as an evaluation error, so Eval back-fills these with
	// empty strings; a filter comparing against "" then matches events
	// that simply lack the key.
	paramKeys    []string
	metadataKeys []string
}

// CompileFilter compiles expr into a filter. An empty expression
// yields a nil filter (no gating). Compilation failures are fatal at
// startup: an invalid filter must never silently pass everything.
func CompileFilter(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("params", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling filter %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter %q must evaluate to a boolean, got %s", expr, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("building filter program: %w", err)
	}

	paramKeys, metadataKeys := referencedKeys(ast.NativeRep())

	return &Filter{
		source:       expr,
		program:      program,
		paramKeys:    paramKeys,
		metadataKeys: metadataKeys,
	}, nil
}

// referencedKeys walks the compiled expression and collects the
// literal keys indexed or selected on the params and metadata
// variables. Membership tests (has(), in) are left alone: they must
// keep observing the key as absent.
func referencedKeys(a *celast.AST) (params, metadata []string) {
	keysByVar := map[string]map[string]bool{
		"params":   {},
		"metadata": {},
	}

	celast.PostOrderVisit(a.Expr(), celast.NewExprVisitor(func(e celast.Expr) {
		switch e.Kind() {
		case celast.CallKind:
			call := e.AsCall()
			if call.FunctionName() != operators.Index || len(call.Args()) != 2 {
				return
			}
			target, index := call.Args()[0], call.Args()[1]
			if target.Kind() != celast.IdentKind || index.Kind() != celast.LiteralKind {
				return
			}
			keys, ok := keysByVar[target.AsIdent()]
			if !ok {
				return
			}
			if key, isString := index.AsLiteral().Value().(string); isString {
				keys[key] = true
			}
		case celast.SelectKind:
			sel := e.AsSelect()
			if sel.IsTestOnly() || sel.Operand().Kind() != celast.IdentKind {
				return
			}
			if keys, ok := keysByVar[sel.Operand().AsIdent()]; ok {
				keys[sel.FieldName()] = true
			}
		}
	}))

	return sortedKeys(keysByVar["params"]), sortedKeys(keysByVar["metadata"])
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Eval runs the filter. A nil filter matches everything.
func (f *Filter) Eval(params, metadata map[string]string) (bool, error) {
	if f == nil {
		return true, nil
	}

	out, _, err := f.program.Eval(map[string]any{
		"params":   withDefaults(params, f.paramKeys),
		"metadata": withDefaults(metadata, f.metadataKeys),
	})
	if err != nil {
		return false, fmt.Errorf("evaluating filter %q: %w", f.source, err)
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned non-boolean %T", f.source, out.Value())
	}
	return matched, nil
}

// withDefaults copies values and fills every referenced key the event
// did not provide with the empty string.
func withDefaults(values map[string]string, keys []string) map[string]string {
	out := make(map[string]string, len(values)+len(keys))
	for k, v := range values {
		out[k] = v
	}
	for _, key := range keys {
		if _, ok := out[key]; !ok {
			out[key] = ""
		}
	}
	return out
}
