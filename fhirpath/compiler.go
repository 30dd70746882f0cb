package fhirpath

import (
	"context"
	"sync"

	"github.com/antlr4-go/antlr/v4"
	parser "github.com/evercare/fhirpath/internal/parser"
)

// CompiledExpression is a parsed expression retrieved from, or newly
// inserted into, the process-wide compile cache. It carries nothing an
// Expression doesn't already carry beyond having already passed the
// static checks Compile performs; the value of compiling rather than
// calling Parse directly is the cache lookup and that validation.
type CompiledExpression struct {
	Expression
}

var (
	compileCacheMu sync.Mutex
	compileCache   = map[string]CompiledExpression{}
)

// Compile parses source, statically validates every call to a built-in
// function against builtinArities, and returns a CompiledExpression. A
// previous parse of the exact same source text is reused instead of
// re-invoking the parser and the validator. The cache is process-wide and
// keyed by source text, append-only and safe for concurrent callers,
// matching the shared caches described for the HTTP fetch, the score
// lookup and the compiled regex cache.
//
// Only calls to names builtinArities knows about are checked here. A
// function registered later on the evaluation context (WithFunctions,
// terminology.Functions()) is invisible to Compile -- it has no fixed
// arity until a caller installs it -- so those names are left for
// Evaluate to resolve and, if miscalled, reject at that point.
func Compile(source string) (CompiledExpression, error) {
	compileCacheMu.Lock()
	cached, ok := compileCache[source]
	compileCacheMu.Unlock()
	if ok {
		return cached, nil
	}

	expr, err := Parse(source)
	if err != nil {
		return CompiledExpression{}, err
	}
	if err := validateArities(expr.tree); err != nil {
		return CompiledExpression{}, err
	}
	compiled := CompiledExpression{Expression: expr}

	compileCacheMu.Lock()
	compileCache[source] = compiled
	compileCacheMu.Unlock()
	return compiled, nil
}

// validateArities walks every function invocation reachable from tree and
// checks its argument count against builtinArities, returning the first
// violation found. Traversal order follows the parse tree's own child
// order, so for an expression with more than one bad call, the error
// names whichever appears first left-to-right.
func validateArities(tree antlr.Tree) error {
	if invocation, ok := tree.(*parser.FunctionInvocationContext); ok {
		if err := validateFunctionArity(invocation.Function()); err != nil {
			return err
		}
	}
	for i := 0; i < tree.GetChildCount(); i++ {
		if err := validateArities(tree.GetChild(i)); err != nil {
			return err
		}
	}
	return nil
}

func validateFunctionArity(tree parser.IFunctionContext) error {
	var (
		name  string
		count int
	)
	if tree.Identifier() == nil {
		name = "sort"
		count = len(tree.AllSortArgument())
	} else {
		ident, err := evalIdentifier(tree.Identifier())
		if err != nil {
			return err
		}
		name = ident
		if paramList := tree.ParamList(); paramList != nil {
			count = len(paramList.AllExpression())
		}
	}
	return requireArity(name, count)
}

// Evaluate runs the compiled expression against target, identical to
// calling Evaluate(ctx, target, c.Expression) directly.
func (c CompiledExpression) Evaluate(ctx context.Context, target Element) (Collection, error) {
	return Evaluate(ctx, target, c.Expression)
}

// ResetCompileCache empties the process-wide compile cache. Exposed for
// tests that need Compile to re-parse rather than observe a previous
// test's cached entry.
func ResetCompileCache() {
	compileCacheMu.Lock()
	defer compileCacheMu.Unlock()
	compileCache = map[string]CompiledExpression{}
}

// Types reports the concrete FHIR type of each element in an already
// evaluated result collection, one TypeInfo per result position.
//
// This is runtime introspection of a result, not static analysis of the
// compiled expression ahead of evaluation: the value domain here is
// dynamically typed end to end (Element.TypeInfo() is a per-value
// method, nothing in the bound tree carries a pre-evaluation type), and
// a path's result type frequently depends on the shape of the resource
// it runs against (polymorphic value[x] fields, choice types,
// ofType/is/as narrowing). Computing a sound static type for every
// result position ahead of time would mean re-deriving the model's
// schema-driven type resolution at the tree level instead of the node
// level, which is a larger undertaking than this function's callers
// need: knowing the type of what a completed evaluation produced.
func Types(result Collection) []TypeInfo {
	types := make([]TypeInfo, len(result))
	for i, elem := range result {
		types[i] = elem.TypeInfo()
	}
	return types
}
