package fhirpath

import (
	"context"
	"fmt"
	"strings"

	"github.com/antlr4-go/antlr/v4"
	parser "github.com/evercare/fhirpath/internal/parser"
)

func evalInvocation(
	ctx context.Context,
	root Element, target Collection,
	inputOrdered bool,
	tree parser.IInvocationContext,
	isRoot bool,
) (Collection, bool, error) {
	switch t := tree.(type) {
	case *parser.MemberInvocationContext:
		return evalMemberInvocation(ctx, root, target, inputOrdered, t, isRoot)
	case *parser.FunctionInvocationContext:
		return evalFunc(ctx, root, target, inputOrdered, t.Function())
	case *parser.ThisInvocationContext:
		if scope, ok := getFunctionScope(ctx); ok {
			return Collection{scope.this}, true, nil
		}
		return Collection{root}, true, nil
	case *parser.IndexInvocationContext:
		scope, ok := getFunctionScope(ctx)
		if !ok {
			return nil, false, fmt.Errorf("$index not defined outside a function scope")
		}
		return Collection{Integer(scope.index)}, true, nil
	case *parser.TotalInvocationContext:
		scope, ok := getFunctionScope(ctx)
		if !ok || !scope.aggregate {
			return nil, false, fmt.Errorf("$total not defined (only in aggregate)")
		}
		return scope.total, true, nil
	default:
		return nil, false, fmt.Errorf("unexpected invocation %T", tree)
	}
}

// evalMemberInvocation resolves a bare identifier invocation. A name in
// FHIRPath is ambiguous between "child element named X" and "type X" (e.g.
// Patient.id is a field, Patient.Patient is a type check) -- field access is
// tried first against every element of target, and only when that comes up
// empty, and only at the start of the path (isRoot), does the identifier get
// a second look as a type name the root element must satisfy.
func evalMemberInvocation(
	ctx context.Context,
	root Element, target Collection,
	inputOrdered bool,
	tree *parser.MemberInvocationContext,
	isRoot bool,
) (Collection, bool, error) {
	ident, err := evalIdentifier(tree.Identifier())
	if err != nil {
		return nil, false, err
	}

	var fields Collection
	for _, elem := range target {
		fields = append(fields, elem.Children(ident)...)
	}
	if len(fields) > 0 {
		return fields, inputOrdered, nil
	}

	if isRoot {
		if expectedType, ok := resolveType(ctx, TypeSpecifier{Name: ident}); ok {
			rootType := root.TypeInfo()
			if !subTypeOf(ctx, rootType, expectedType) {
				return nil, false, fmt.Errorf("expected element of type %s, got %s", expectedType, rootType)
			}
			return Collection{root}, inputOrdered, nil
		}
	}

	return fields, inputOrdered, nil
}

func evalQualifiedIdentifier(tree parser.IQualifiedIdentifierContext) (TypeSpecifier, error) {
	idents := make([]string, 0, len(tree.AllIdentifier()))
	for _, i := range tree.AllIdentifier() {
		ident, err := evalIdentifier(i)
		if err != nil {
			return TypeSpecifier{}, err
		}
		idents = append(idents, ident)
	}

	return TypeSpecifier{
		Namespace: strings.Join(idents[:len(idents)-1], "."),
		Name:      idents[len(idents)-1],
	}, nil
}

func evalIdentifier(tree parser.IIdentifierContext) (string, error) {
	text := tree.GetText()
	if tree.DELIMITEDIDENTIFIER() != nil {
		return unescape(text[1 : len(text)-1])
	}
	return text, nil
}

// evalFunc extracts a function invocation's name and argument expressions
// from the parse tree and dispatches to the registered implementation.
// sort() is special-cased at the grammar level (its arguments carry a
// direction keyword rather than being plain expressions), so it has no
// Identifier() node of its own.
func evalFunc(
	ctx context.Context,
	root Element, target Collection,
	inputOrdered bool,
	tree parser.IFunctionContext,
) (Collection, bool, error) {
	if tree.Identifier() == nil {
		paramExprs, err := buildSortArguments(tree)
		if err != nil {
			return nil, false, err
		}
		return callFunc(ctx, root, target, inputOrdered, "sort", paramExprs)
	}

	ident, err := evalIdentifier(tree.Identifier())
	if err != nil {
		return nil, false, err
	}

	var paramExprs []Expression
	if paramList := tree.ParamList(); paramList != nil {
		paramExprs = buildParamExpressions(paramList.AllExpression())
	}
	return callFunc(ctx, root, target, inputOrdered, ident, paramExprs)
}

func callFunc(
	ctx context.Context,
	root Element, target Collection,
	inputOrdered bool,
	ident string,
	paramExprs []Expression,
) (Collection, bool, error) {
	fn, ok := getFunction(ctx, ident)
	if !ok {
		return nil, false, fmt.Errorf("function \"%s\" not found", ident)
	}
	return fn(ctx, root, target, inputOrdered, paramExprs, paramEvaluatorFor(root, ident))
}

// paramEvaluatorFor builds the EvaluateFunc a called function uses to
// evaluate its own argument expressions (the predicate in where(), the
// projection in select(), and so on). ident decides whether the callee is
// itself aggregate(), since that's the one built-in allowed to establish a
// fresh $total binding rather than just inheriting one.
func paramEvaluatorFor(root Element, ident string) EvaluateFunc {
	return func(
		ctx context.Context,
		target Collection,
		expr Expression,
		fnScope *FunctionScope,
	) (Collection, bool, error) {
		// Argument expressions get their own variable scope so that a
		// defineVariable() inside one doesn't leak into the caller or
		// into sibling arguments.
		ctx, _ = withNewEnvStackFrame(ctx)

		if fnScope != nil {
			ctx = withFunctionScope(ctx, paramFunctionScope(ctx, ident, target, fnScope))
		}

		evalTarget := evalTargetFor(ctx, root, target)
		return evalExpression(ctx, root, evalTarget, true, expr.tree, true)
	}
}

func paramFunctionScope(ctx context.Context, ident string, target Collection, fnScope *FunctionScope) functionScope {
	scope := functionScope{index: fnScope.index}
	if len(target) == 1 {
		scope.this = target[0]
	}

	if parent, ok := getFunctionScope(ctx); ok && parent.aggregate {
		scope.aggregate = true
		scope.total = parent.total
	}
	if ident == "aggregate" {
		scope.aggregate = true
		scope.total = fnScope.total
	}
	return scope
}

// evalTargetFor picks what an argument expression with no explicit target
// evaluates against: the caller-supplied target if there is one, else the
// enclosing $this, else the root of the whole evaluation.
func evalTargetFor(ctx context.Context, root Element, target Collection) Collection {
	if len(target) > 0 {
		return target
	}
	if scope, ok := getFunctionScope(ctx); ok && scope.this != nil {
		return Collection{scope.this}
	}
	if root != nil {
		return Collection{root}
	}
	return target
}

func buildParamExpressions(paramTerms []parser.IExpressionContext) []Expression {
	if len(paramTerms) == 0 {
		return nil
	}
	exprs := make([]Expression, 0, len(paramTerms))
	for _, param := range paramTerms {
		exprs = append(exprs, Expression{tree: param})
	}
	return exprs
}

func buildSortArguments(tree parser.IFunctionContext) ([]Expression, error) {
	sortArgs := tree.AllSortArgument()
	if len(sortArgs) == 0 {
		return nil, nil
	}

	exprs := make([]Expression, 0, len(sortArgs))
	for _, arg := range sortArgs {
		argCtx, ok := arg.(*parser.SortDirectionArgumentContext)
		if !ok {
			return nil, fmt.Errorf("unexpected sort argument type %T", arg)
		}

		dir := sortDirectionFromArgument(argCtx)
		exprCtx, legacyDir := normalizeLegacySortDirection(argCtx.Expression())
		if dir == sortDirectionNone {
			dir = legacyDir
		}
		if dir == sortDirectionNone {
			dir = sortDirectionAsc
		}

		exprs = append(exprs, Expression{tree: exprCtx, sortDirection: dir})
	}
	return exprs, nil
}

func sortDirectionFromArgument(arg *parser.SortDirectionArgumentContext) sortDirection {
	for i := 0; i < arg.GetChildCount(); i++ {
		terminal, ok := arg.GetChild(i).(antlr.TerminalNode)
		if !ok {
			continue
		}
		switch terminal.GetText() {
		case "asc":
			return sortDirectionAsc
		case "desc":
			return sortDirectionDesc
		}
	}
	return sortDirectionNone
}

// normalizeLegacySortDirection supports the pre-R5 "sort(-field)" spelling
// by recognizing a leading unary minus on a sort argument and translating
// it into the equivalent explicit "desc" direction.
func normalizeLegacySortDirection(expr parser.IExpressionContext) (parser.IExpressionContext, sortDirection) {
	polarity, ok := expr.(*parser.PolarityExpressionContext)
	if !ok || polarity.GetChildCount() == 0 {
		return expr, sortDirectionNone
	}
	token, ok := polarity.GetChild(0).(antlr.ParseTree)
	if !ok || token.GetText() != "-" {
		return expr, sortDirectionNone
	}
	return polarity.Expression(), sortDirectionDesc
}
