package fhirpath

import (
	"context"
	"testing"

	"github.com/cockroachdb/apd/v3"
)

// testResource is a minimal Element used to drive built-in functions
// directly without going through a real FHIR model.
type testResource struct{}

func (testResource) Children(name ...string) Collection { return nil }
func (testResource) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	return false, false, nil
}
func (testResource) ToString(explicit bool) (v String, ok bool, err error)   { return "", false, nil }
func (testResource) ToInteger(explicit bool) (v Integer, ok bool, err error) { return 0, false, nil }
func (testResource) ToLong(explicit bool) (v Long, ok bool, err error)       { return 0, false, nil }
func (testResource) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	return Decimal{}, false, nil
}
func (testResource) ToDate(explicit bool) (v Date, ok bool, err error)         { return Date{}, false, nil }
func (testResource) ToTime(explicit bool) (v Time, ok bool, err error)         { return Time{}, false, nil }
func (testResource) ToDateTime(explicit bool) (v DateTime, ok bool, err error) { return DateTime{}, false, nil }
func (testResource) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	return Quantity{}, false, nil
}
func (testResource) Equal(other Element) (bool, bool) { return false, false }
func (testResource) Equivalent(other Element) bool    { return false }
func (testResource) TypeInfo() TypeInfo               { return SimpleTypeInfo{Name: "test"} }
func (testResource) MarshalJSON() ([]byte, error)     { return []byte("{}"), nil }
func (testResource) String() string                   { return "testResource" }

func runNoArgFunction(t *testing.T, name string, target Collection) (Collection, bool) {
	t.Helper()
	fn, ok := defaultFunctions[name]
	if !ok {
		t.Fatalf("no built-in function %q", name)
	}
	ctx := WithAPDContext(context.Background(), apd.BaseContext.WithPrecision(20))
	result, ordered, err := fn(ctx, testResource{}, target, true, nil, nil)
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", name, err)
	}
	return result, ordered
}

func decimalOf(t *testing.T, s string) Decimal {
	t.Helper()
	d, _, err := apd.NewFromString(s)
	if err != nil {
		t.Fatalf("apd.NewFromString(%q): %v", s, err)
	}
	return Decimal{Value: d}
}

func TestSumAddsAllItems(t *testing.T) {
	result, _ := runNoArgFunction(t, "sum", Collection{Integer(1), Integer(2), Integer(3)})
	if len(result) != 1 || result[0] != Integer(6) {
		t.Errorf("sum() = %v, want [6]", result)
	}
}

func TestSumOfEmptyIsEmpty(t *testing.T) {
	result, ordered := runNoArgFunction(t, "sum", Collection{})
	if len(result) != 0 || !ordered {
		t.Errorf("sum() on empty input = %v, want empty ordered result", result)
	}
}

func TestMinAndMaxPickExtremes(t *testing.T) {
	target := Collection{Integer(5), Integer(1), Integer(9), Integer(3)}

	min, _ := runNoArgFunction(t, "min", target)
	if len(min) != 1 || min[0] != Integer(1) {
		t.Errorf("min() = %v, want [1]", min)
	}

	max, _ := runNoArgFunction(t, "max", target)
	if len(max) != 1 || max[0] != Integer(9) {
		t.Errorf("max() = %v, want [9]", max)
	}
}

func TestAvgDividesSumByCount(t *testing.T) {
	result, _ := runNoArgFunction(t, "avg", Collection{Integer(2), Integer(4), Integer(6)})
	if len(result) != 1 {
		t.Fatalf("avg() = %v, want single item", result)
	}
	got, ok := result[0].(Decimal)
	if !ok {
		t.Fatalf("avg() returned %T, want Decimal", result[0])
	}
	if got.Value.Cmp(decimalOf(t, "4").Value) != 0 {
		t.Errorf("avg() = %s, want 4", got.Value.String())
	}
}

func TestAggregateStillWorksAlongsideSumMinMaxAvg(t *testing.T) {
	fn := defaultFunctions["aggregate"]
	ctx := WithAPDContext(context.Background(), apd.BaseContext.WithPrecision(20))

	sumExpr := MustParse("$total + $this")

	evaluate := func(ctx context.Context, target Collection, expr Expression, scope *FunctionScope) (Collection, bool, error) {
		if scope != nil {
			fnScope := functionScope{index: scope.index, total: scope.total, aggregate: true}
			ctx = withFunctionScope(ctx, fnScope)
		}
		return evalExpression(ctx, testResource{}, target, true, expr.tree, true)
	}

	result, _, err := fn(ctx, testResource{}, Collection{Integer(1), Integer(2), Integer(3)}, true,
		[]Expression{sumExpr}, evaluate)
	if err != nil {
		t.Fatalf("aggregate: unexpected error: %v", err)
	}
	if len(result) != 1 || result[0] != Integer(6) {
		t.Errorf("aggregate($total + $this) = %v, want [6]", result)
	}
}

func TestRequireArityRejectsWrongCount(t *testing.T) {
	if err := requireArity("where", 0); err == nil {
		t.Errorf("requireArity(\"where\", 0) = nil, want an ArityError")
	}
	if err := requireArity("where", 1); err != nil {
		t.Errorf("requireArity(\"where\", 1) = %v, want nil", err)
	}
	if err := requireArity("unknownCustomFunction", 37); err != nil {
		t.Errorf("requireArity on an unregistered name should defer, got %v", err)
	}
}
