package fhirpath

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/antlr4-go/antlr/v4"
	"github.com/cockroachdb/apd/v3"
	parser "github.com/evercare/fhirpath/internal/parser"
)

// Expression represents a parsed FHIRPath expression that can be evaluated against a FHIR resource.
// Expressions are created using the Parse or MustParse functions.
type Expression struct {
	tree          parser.IExpressionContext
	sortDirection sortDirection
}

type sortDirection uint8

const (
	sortDirectionNone sortDirection = iota
	sortDirectionAsc
	sortDirectionDesc
)

// String returns the string representation of the expression.
// This is useful for debugging or displaying the expression.
func (e Expression) String() string {
	if e.tree == nil {
		return ""
	}
	return e.tree.GetText()
}

// Parse parses a FHIRPath expression string and returns an Expression object.
// If the expression cannot be parsed, an error is returned.
//
// Example:
//
//	expr, err := fhirpath.Parse("Patient.name.given")
//	if err != nil {
//	    // Handle error
//	}
func Parse(expr string) (Expression, error) {
	tree, err := parse(expr)
	if err != nil {
		return Expression{}, err
	}
	return Expression{tree: tree}, nil
}

// MustParse parses a FHIRPath expression string and returns an Expression object.
// If the expression cannot be parsed, it panics.
//
// This function is useful when you know the expression is valid and want to avoid
// error checking, such as in tests or with hardcoded expressions.
//
// Example:
//
//	expr := fhirpath.MustParse("Patient.name.given")
func MustParse(path string) Expression {
	expr, err := Parse(path)
	if err != nil {
		panic(err)
	}
	return expr
}

type SyntaxError struct {
	line, column int
	msg          string
}

func (s SyntaxError) Error() string {
	return fmt.Sprintf("%d:%d: %s", s.line, s.column, s.msg)
}

type SyntaxErrorListener struct {
	*antlr.DefaultErrorListener
	Errors []error
}

func (c *SyntaxErrorListener) SyntaxError(
	recognizer antlr.Recognizer,
	offendingSymbol any,
	line, column int,
	msg string, e antlr.RecognitionException) {
	c.Errors = append(c.Errors, SyntaxError{
		line:   line,
		column: column,
		msg:    msg,
	})
}

func parse(expr string) (parser.IExpressionContext, error) {
	errListener := SyntaxErrorListener{}
	inputStream := antlr.NewInputStream(expr)

	lexer := parser.NewFHIRPathLexer(inputStream)
	lexer.RemoveErrorListeners()
	lexer.AddErrorListener(&errListener)

	stream := antlr.NewCommonTokenStream(lexer, antlr.TokenDefaultChannel)
	parser := parser.NewFHIRPathParser(stream)
	parser.RemoveErrorListeners()
	parser.AddErrorListener(&errListener)

	entireExpr := parser.EntireExpression()
	if entireExpr.EOF() == nil {
		return nil, fmt.Errorf(
			"can not parse expression at index %v: %v",
			len(entireExpr.Expression().GetText()), entireExpr.GetText(),
		)
	}

	return entireExpr.Expression(), errors.Join(errListener.Errors...)
}

// Evaluate evaluates a FHIRPath expression against a target element and returns the resulting collection.
//
// The context parameter can be used to provide additional configuration for the evaluation,
// such as decimal precision settings, trace logging, or environment variables.
// For FHIR resources, you can use the context provided by the model package (e.g., model.Model.Context).
//
// The target parameter is the element against which the expression will be evaluated.
// This is typically a FHIR resource like a Patient or Observation.
//
// The expr parameter is the parsed FHIRPath expression to evaluate.
//
// Example:
//
//	m := model.New(schema)
//	patient := m.Root(decodedPatient) // the Patient JSON decoded into `any`
//	expr := fhirpath.MustParse("Patient.name.given")
//	result, err := fhirpath.Evaluate(m.Context(context.Background()), patient, expr)
//	if err != nil {
//	    // Handle error
//	}
//	fmt.Println(result) // Output: { 'Donald' }
func Evaluate(ctx context.Context, target Element, expr Expression) (Collection, error) {
	ctx = withEvaluationInstant(ctx)
	seeded := make(map[string]bool, len(resourceScopedVariables))
	for _, name := range resourceScopedVariables {
		seeded[name] = true
	}
	for name, value := range systemVariables {
		if seeded[name] {
			ctx = WithEnv(ctx, name, Collection{target})
		} else if _, ok := envValue(ctx, name); !ok {
			ctx = WithEnv(ctx, name, value)
		}
	}

	result, _, err := evalExpression(
		ctx,
		target, Collection{target},
		true,
		expr.tree,
		true,
	)
	if pending, ok := AsPending(err); ok && asyncMode(ctx) == AsyncAlways {
		return resolvePending(ctx, pending)
	}
	return result, err
}

func evalExpression(
	ctx context.Context,
	root Element, target Collection,
	inputOrdered bool,
	tree parser.IExpressionContext,
	isRoot bool,
) (result Collection, resultOrdered bool, err error) {

	switch t := tree.(type) {
	case *parser.ExpressionContext:
		return nil, false, fmt.Errorf("can not evaluate empty expression")
	case *parser.TermExpressionContext:
		return evalTerm(ctx, root, target, inputOrdered, t.Term(), isRoot)
	case *parser.InvocationExpressionContext:
		expr, ordered, err := evalExpression(ctx, root, target, inputOrdered, t.Expression(), isRoot)
		if err != nil {
			return nil, false, err
		}
		return evalInvocation(ctx, root, expr, ordered, t.Invocation(), false)
	case *parser.IndexerExpressionContext:
		expr, ordered, err := evalExpression(ctx, root, target, inputOrdered, t.Expression(0), isRoot)
		if err != nil {
			return nil, false, err
		}
		if !ordered {
			return nil, false, errors.New("can not index into unordered collection")
		}
		indexCollection, _, err := evalExpression(ctx, root, target, inputOrdered, t.Expression(1), false)
		if err != nil {
			return nil, false, err
		}
		return evalIndexer(expr, indexCollection)
	case *parser.PolarityExpressionContext:
		expr, ordered, err := evalExpression(ctx, root, target, inputOrdered, t.Expression(), isRoot)
		if err != nil {
			return nil, false, err
		}
		op := t.GetChild(0).(antlr.ParseTree).GetText()
		return applyPolarity(ctx, expr, ordered, op)
	case *parser.MultiplicativeExpressionContext:
		left, right, err := evalOperands(ctx, root, target, inputOrdered, isRoot, t.Expression(0), t.Expression(1))
		if err != nil {
			return nil, false, err
		}
		op := t.GetChild(1).(antlr.ParseTree).GetText()
		result, err = applyMultiplicative(ctx, left, right, op)
		return result, true, err
	case *parser.AdditiveExpressionContext:
		left, right, err := evalOperands(ctx, root, target, inputOrdered, isRoot, t.Expression(0), t.Expression(1))
		if err != nil {
			return nil, false, err
		}
		op := t.GetChild(1).(antlr.ParseTree).GetText()
		result, err = applyAdditive(ctx, left, right, op)
		return result, true, err
	case *parser.TypeExpressionContext:
		expr, _, err := evalExpression(ctx, root, target, inputOrdered, t.Expression(), isRoot)
		if err != nil {
			return nil, false, err
		}
		op := t.GetChild(1).(antlr.ParseTree).GetText()
		spec, err := evalQualifiedIdentifier(t.TypeSpecifier().QualifiedIdentifier())
		if err != nil {
			return nil, false, err
		}
		return evalTypeOperator(ctx, expr, op, spec)

	case *parser.UnionExpressionContext:
		// Each branch of a union gets its own environment stack frame
		// This ensures that variables defined on one side don't affect the other
		// We create fresh contexts for both sides here since they're separate evaluation trees
		leftCtx, _ := withNewEnvStackFrame(ctx)
		left, leftOrdered, err := evalExpression(leftCtx, root, target, inputOrdered, t.Expression(0), isRoot)
		if err != nil {
			return nil, false, err
		}
		rightCtx, _ := withNewEnvStackFrame(ctx)
		right, rightOrdered, err := evalExpression(rightCtx, root, target, inputOrdered, t.Expression(1), isRoot)
		if err != nil {
			return nil, false, err
		}

		return left.Union(right), leftOrdered && rightOrdered, nil

	case *parser.InequalityExpressionContext:
		left, right, err := evalOperands(ctx, root, target, inputOrdered, isRoot, t.Expression(0), t.Expression(1))
		if err != nil {
			return nil, false, err
		}
		op := t.GetChild(1).(antlr.ParseTree).GetText()
		return applyInequality(left, right, op)

	case *parser.EqualityExpressionContext:
		left, leftOrdered, err := evalExpression(ctx, root, target, inputOrdered, t.Expression(0), isRoot)
		if err != nil {
			return nil, false, err
		}
		right, rightOrdered, err := evalExpression(ctx, root, target, inputOrdered, t.Expression(1), isRoot)
		if err != nil {
			return nil, false, err
		}
		op := t.GetChild(1).(antlr.ParseTree).GetText()
		result, err = applyEquality(left, leftOrdered, right, rightOrdered, op)
		return result, true, err
	case *parser.MembershipExpressionContext:
		left, right, err := evalOperands(ctx, root, target, inputOrdered, isRoot, t.Expression(0), t.Expression(1))
		if err != nil {
			return nil, false, err
		}
		op := t.GetChild(1).(antlr.ParseTree).GetText()
		result, err = applyMembership(left, right, op)
		return result, true, err

	case *parser.AndExpressionContext:
		left, right, err := evalOperands(ctx, root, target, inputOrdered, isRoot, t.Expression(0), t.Expression(1))
		if err != nil {
			return nil, false, err
		}
		result, err = applyAnd(left, right)
		return result, true, err

	case *parser.OrExpressionContext:
		left, right, err := evalOperands(ctx, root, target, inputOrdered, isRoot, t.Expression(0), t.Expression(1))
		if err != nil {
			return nil, false, err
		}
		op := t.GetChild(1).(antlr.ParseTree).GetText()
		result, err = applyOr(left, right, op)
		return result, true, err

	case *parser.ImpliesExpressionContext:
		left, right, err := evalOperands(ctx, root, target, inputOrdered, isRoot, t.Expression(0), t.Expression(1))
		if err != nil {
			return nil, false, err
		}
		return applyImplies(left, right)

	default:
		panic(fmt.Sprintf("unexpected expression %T", tree))
	}
}

// evalOperands evaluates a binary expression's two sides against the same
// target, the shape every comparison and arithmetic operator below shares.
func evalOperands(
	ctx context.Context,
	root Element, target Collection,
	inputOrdered bool,
	isRoot bool,
	leftTree, rightTree parser.IExpressionContext,
) (left, right Collection, err error) {
	left, _, err = evalExpression(ctx, root, target, inputOrdered, leftTree, isRoot)
	if err != nil {
		return nil, nil, err
	}
	right, _, err = evalExpression(ctx, root, target, inputOrdered, rightTree, isRoot)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func evalIndexer(expr, indexCollection Collection) (Collection, bool, error) {
	index, ok, err := Singleton[Integer](indexCollection)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("can not index with null index")
	}
	i := int(index)
	if i >= len(expr) {
		return nil, false, nil
	}
	return Collection{expr[i]}, true, nil
}

func applyPolarity(ctx context.Context, expr Collection, ordered bool, op string) (Collection, bool, error) {
	switch op {
	case "+":
		return expr, ordered, nil
	case "-":
		result, err := expr.Multiply(ctx, Collection{Integer(-1)})
		return result, true, err
	}
	return nil, false, nil
}

func applyMultiplicative(ctx context.Context, left, right Collection, op string) (Collection, error) {
	switch op {
	case "*":
		return left.Multiply(ctx, right)
	case "/":
		return left.Divide(ctx, right)
	case "div":
		return left.Div(ctx, right)
	case "mod":
		return left.Mod(ctx, right)
	}
	return nil, nil
}

func applyAdditive(ctx context.Context, left, right Collection, op string) (Collection, error) {
	switch op {
	case "+":
		return left.Add(ctx, right)
	case "-":
		return left.Subtract(ctx, right)
	case "&":
		return left.Concat(ctx, right)
	}
	return nil, nil
}

// evalTypeOperator implements the "is"/"as" type operators, which both
// require a single-element input and yield { } rather than an error on an
// empty one (the HL7 test suite exercises this with, e.g., a missing
// Observation.issued tested against "is instant").
func evalTypeOperator(ctx context.Context, expr Collection, op string, spec TypeSpecifier) (Collection, bool, error) {
	if len(expr) == 0 {
		return nil, true, nil
	}
	if len(expr) != 1 {
		return nil, false, fmt.Errorf("expected single input element")
	}

	switch op {
	case "is":
		r, err := isType(ctx, expr[0], spec)
		if err != nil {
			return nil, false, err
		}
		return Collection{r}, true, nil
	case "as":
		c, err := asType(ctx, expr[0], spec)
		if err != nil {
			return nil, false, err
		}
		if c != nil {
			return c, true, nil
		}
		return nil, false, nil
	}
	return nil, false, nil
}

func applyInequality(left, right Collection, op string) (Collection, bool, error) {
	cmp, ok, err := left.Cmp(right)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	verdict := false
	switch op {
	case "<=":
		verdict = cmp <= 0
	case "<":
		verdict = cmp < 0
	case ">":
		verdict = cmp > 0
	case ">=":
		verdict = cmp >= 0
	}
	return Collection{Boolean(verdict)}, true, nil
}

func applyEquality(left Collection, leftOrdered bool, right Collection, rightOrdered bool, op string) (Collection, error) {
	// for equality check, order is important
	if (op == "=" || op == "!=") &&
		(len(left) > 1 || len(right) > 1) &&
		(!leftOrdered || !rightOrdered) {
		return nil, fmt.Errorf("expected ordered inputs for equality expression")
	}

	switch op {
	case "=":
		eq, ok := left.Equal(right)
		if !ok {
			return nil, nil
		}
		return Collection{Boolean(eq)}, nil
	case "~":
		return Collection{Boolean(left.Equivalent(right))}, nil
	case "!=":
		eq, ok := left.Equal(right)
		if !ok {
			return nil, nil
		}
		return Collection{Boolean(!eq)}, nil
	case "!~":
		return Collection{Boolean(!left.Equivalent(right))}, nil
	}
	return nil, nil
}

func applyMembership(left, right Collection, op string) (Collection, error) {
	switch op {
	case "in":
		if len(left) == 0 {
			return nil, nil
		}
		if len(left) > 1 {
			return nil, fmt.Errorf("left operand of \"in\" (membership) has more than 1 value")
		}
		return Collection{Boolean(right.Contains(left[0]))}, nil
	case "contains":
		if len(right) == 0 {
			return nil, nil
		}
		if len(right) > 1 {
			return nil, fmt.Errorf("right operand of \"contains\" (membership) has more than 1 value")
		}
		return Collection{Boolean(left.Contains(right[0]))}, nil
	}
	return nil, nil
}

// applyAnd implements FHIRPath's three-valued "and": a known false on
// either side wins over an unknown (empty) value on the other.
func applyAnd(left, right Collection) (Collection, error) {
	leftSingle, leftOk, err := Singleton[Boolean](left)
	if err != nil {
		return nil, err
	}
	rightSingle, rightOk, err := Singleton[Boolean](right)
	if err != nil {
		return nil, err
	}

	switch {
	case leftOk && leftSingle && rightOk && rightSingle:
		return Collection{Boolean(true)}, nil
	case leftOk && !leftSingle:
		return Collection{Boolean(false)}, nil
	case rightOk && !rightSingle:
		return Collection{Boolean(false)}, nil
	}
	return nil, nil
}

// applyOr implements "or" (a known true on either side wins over an
// unknown on the other) and "xor".
func applyOr(left, right Collection, op string) (Collection, error) {
	leftSingle, leftOk, err := Singleton[Boolean](left)
	if err != nil {
		return nil, err
	}
	rightSingle, rightOk, err := Singleton[Boolean](right)
	if err != nil {
		return nil, err
	}

	switch op {
	case "or":
		switch {
		case leftOk && !leftSingle && rightOk && !rightSingle:
			return Collection{Boolean(false)}, nil
		case leftOk && leftSingle:
			return Collection{Boolean(true)}, nil
		case rightOk && rightSingle:
			return Collection{Boolean(true)}, nil
		}
	case "xor":
		switch {
		case leftOk && rightOk && leftSingle != rightSingle:
			return Collection{Boolean(true)}, nil
		case leftOk && rightOk && leftSingle == rightSingle:
			return Collection{Boolean(false)}, nil
		}
	}
	return nil, nil
}

func applyImplies(left, right Collection) (Collection, bool, error) {
	leftSingle, leftOk, err := Singleton[Boolean](left)
	if err != nil {
		return nil, false, err
	}
	rightSingle, rightOk, err := Singleton[Boolean](right)
	if err != nil {
		return nil, false, err
	}

	switch {
	case leftOk && leftSingle && rightOk:
		return Collection{rightSingle}, true, nil
	case leftOk && leftSingle:
		return nil, true, nil
	case leftOk && !leftSingle:
		return Collection{Boolean(true)}, true, nil
	case rightOk && rightSingle:
		return Collection{Boolean(true)}, true, nil
	}
	return nil, true, nil
}

func evalTerm(
	ctx context.Context,
	root Element, target Collection,
	inputOrdered bool,
	tree parser.ITermContext,
	isRoot bool,
) (result Collection, resultOrdered bool, err error) {
	switch t := tree.(type) {
	case *parser.InvocationTermContext:
		return evalInvocation(ctx, root, target, inputOrdered, t.Invocation(), isRoot)
	case *parser.LiteralTermContext:
		return evalLiteral(t.Literal())
	case *parser.ExternalConstantTermContext:
		return evalExternalConstant(ctx, t.ExternalConstant())
	case *parser.ParenthesizedTermContext:
		return evalExpression(ctx, root, target, inputOrdered, t.Expression(), isRoot)
	default:
		return nil, false, fmt.Errorf("unexpected term %T", tree)
	}
}

func evalLiteral(
	tree parser.ILiteralContext,
) (result Collection, resultOrdered bool, err error) {
	s := tree.GetText()

	switch tt := tree.(type) {
	case *parser.NullLiteralContext:
		return nil, true, nil
	case *parser.BooleanLiteralContext:
		if s == "true" {
			return Collection{Boolean(true)}, true, nil
		} else if s == "false" {
			return Collection{Boolean(false)}, true, nil
		} else {
			return nil, false, fmt.Errorf("expected boolean literal, got %s", s)
		}
	case *parser.StringLiteralContext:
		unescaped, err := unescape(s[1 : len(s)-1])
		return Collection{String(unescaped)}, true, err
	case *parser.NumberLiteralContext:
		if strings.Contains(s, ".") {
			d, _, err := apd.NewFromString(s)
			return Collection{Decimal{Value: d}}, true, err
		}

		val, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, false, err
		}
		return Collection{Integer(val)}, true, nil
	case *parser.LongNumberLiteralContext:
		value := strings.TrimSuffix(s, "L")
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, false, err
		}
		return Collection{Long(v)}, true, nil
	case *parser.DateLiteralContext:
		d, err := ParseDate(s)
		return Collection{d}, true, err
	case *parser.TimeLiteralContext:
		t, err := ParseTime(s)
		return Collection{t}, true, err
	case *parser.DateTimeLiteralContext:
		dt, err := ParseDateTime(s)
		return Collection{dt}, true, err
	case *parser.QuantityLiteralContext:
		q, err := ParseQuantity(tt.Quantity().GetText())
		return Collection{q}, true, err
	default:
		return nil, false, fmt.Errorf("unexpected term %T: %v", tree, tree)
	}
}

type envKey struct{}

var systemVariables = map[string]Collection{
	"context":       nil,
	"resource":      nil,
	"rootResource":  nil,
	"ucum":          Collection{String("http://unitsofmeasure.org")},
	"loinc":         Collection{String("http://loinc.org")},
	"sct":           Collection{String("http://snomed.info/sct")},
	"questionnaire": nil,
	"terminologies": nil,
}

// resourceScopedVariables names the variables Evaluate seeds from the
// top-level target: %context for the current navigation point, plus
// %resource/%rootResource, which the FHIRPath-on-FHIR model sets to the
// resource being evaluated (they diverge from %context only once
// navigation descends below the resource root, which the core evaluator
// does not track on its own — callers projecting contained resources
// reseed %rootResource via WithEnv before evaluating the contained
// resource's own expressions).
var resourceScopedVariables = []string{"context", "resource", "rootResource"}

func WithEnv(ctx context.Context, name string, value Collection) context.Context {
	frame, ok := envStackFrame(ctx)
	if !ok {
		ctx, frame = withNewEnvStackFrame(ctx)
	}
	frame[name] = value
	return ctx
}

func withNewEnvStackFrame(ctx context.Context) (context.Context, map[string]Collection) {
	frame, ok := envStackFrame(ctx)
	if !ok {
		frame = make(map[string]Collection, len(systemVariables))
		for name, value := range systemVariables {
			frame[name] = value
		}
	}
	clonedFrame := maps.Clone(frame)
	return context.WithValue(ctx, envKey{}, clonedFrame), clonedFrame
}

func envStackFrame(ctx context.Context) (map[string]Collection, bool) {
	val, ok := ctx.Value(envKey{}).(map[string]Collection)
	if !ok {
		return nil, false
	}
	return val, true
}

// Variable reads the value of an environment variable (without its
// leading "%") as seen by the expression currently evaluating against
// ctx: a system variable such as "context" or "ucum", a processed
// variable a caller seeded with WithEnv (e.g. "questionnaire",
// "terminologies"), or a user-defined one introduced by defineVariable.
//
// It exists for out-of-tree functions registered via WithFunctions (see
// the terminology package) that need to read the same environment a
// FHIRPath expression would see via %name.
func Variable(ctx context.Context, name string) (Collection, bool) {
	return envValue(ctx, name)
}

func envValue(ctx context.Context, name string) (Collection, bool) {
	frame, ok := envStackFrame(ctx)
	if !ok {
		return nil, false
	}
	val, ok := frame[name]
	return val, ok
}

func evalExternalConstant(
	ctx context.Context,
	tree parser.IExternalConstantContext,
) (result Collection, resultOrdered bool, err error) {
	name := strings.TrimLeft(tree.GetText(), "%")
	value, ok := envValue(ctx, name)
	if !ok {
		return nil, false, fmt.Errorf("environment variable %q undefined", name)
	}
	return value, true, nil
}

func Singleton[T Element](c Collection) (v T, ok bool, err error) {
	if len(c) == 0 {
		return v, false, nil
	} else if len(c) > 1 {
		return v, false, newSingletonError("singleton conversion", len(c))
	}

	// convert to input type
	v, ok, err = elementTo[T](c[0], false)

	// if not convertible but contains a single value, evaluate to true
	if _, wantBool := any(v).(Boolean); err != nil && wantBool {
		return any(Boolean(true)).(T), true, nil
	}

	return v, ok, err
}
