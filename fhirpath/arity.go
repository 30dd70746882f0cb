package fhirpath

import "fmt"

// arityRange describes how many arguments a function invocation accepts.
// max of -1 means unbounded (e.g. sort(criteria...), coalesce(value...)).
type arityRange struct {
	min, max int
}

func (r arityRange) accepts(n int) bool {
	if n < r.min {
		return false
	}
	return r.max < 0 || n <= r.max
}

func (r arityRange) String() string {
	switch {
	case r.max < 0:
		return fmt.Sprintf("at least %d", r.min)
	case r.min == r.max:
		return fmt.Sprintf("exactly %d", r.min)
	default:
		return fmt.Sprintf("between %d and %d", r.min, r.max)
	}
}

// builtinArities pins down the argument count every built-in function in
// defaultFunctions and FHIRFunctions accepts. Compile uses it to reject an
// obviously wrong call (e.g. Patient.where()) before Evaluate ever runs;
// requireArity uses the same table so the check only lives in one place.
// Names absent from this table are either registered later (WithFunctions,
// terminology.Functions) or take no parameters at all, and are left to
// Evaluate's own bookkeeping.
var builtinArities = map[string]arityRange{
	"type":               {0, 0},
	"is":                 {1, 1},
	"as":                 {1, 1},
	"ofType":             {1, 1},
	"not":                {0, 0},
	"empty":              {0, 0},
	"exists":             {0, 1},
	"all":                {1, 1},
	"allTrue":            {0, 0},
	"anyTrue":            {0, 0},
	"allFalse":           {0, 0},
	"anyFalse":           {0, 0},
	"subsetOf":           {1, 1},
	"supersetOf":         {1, 1},
	"count":              {0, 0},
	"distinct":           {0, 0},
	"isDistinct":         {0, 0},
	"where":              {1, 1},
	"select":             {1, 1},
	"sort":               {0, -1},
	"repeat":             {1, 1},
	"repeatAll":          {1, 1},
	"single":             {0, 0},
	"first":              {0, 0},
	"last":               {0, 0},
	"tail":               {0, 0},
	"skip":               {1, 1},
	"take":               {1, 1},
	"intersect":          {1, 1},
	"exclude":            {1, 1},
	"union":              {1, 1},
	"combine":            {1, 1},
	"coalesce":           {1, -1},
	"indexOf":            {1, 1},
	"lastIndexOf":        {1, 1},
	"substring":          {1, 2},
	"startsWith":         {1, 1},
	"endsWith":           {1, 1},
	"contains":           {1, 1},
	"upper":              {0, 0},
	"lower":              {0, 0},
	"replace":            {2, 2},
	"matches":            {1, 2},
	"replaceMatches":     {2, 3},
	"length":             {0, 0},
	"toChars":            {0, 0},
	"matchesFull":        {1, 1},
	"trim":               {0, 0},
	"split":              {1, 1},
	"join":               {0, 1},
	"encode":             {1, 1},
	"decode":             {1, 1},
	"escape":             {1, 1},
	"unescape":           {1, 1},
	"lowBoundary":        {0, 1},
	"highBoundary":       {0, 1},
	"precision":          {0, 0},
	"duration":           {2, 2},
	"difference":         {2, 2},
	"defineVariable":     {1, 2},
	"abs":                {0, 0},
	"ceiling":            {0, 0},
	"floor":              {0, 0},
	"truncate":           {0, 0},
	"round":              {0, 1},
	"exp":                {0, 0},
	"ln":                 {0, 0},
	"log":                {1, 1},
	"power":              {1, 1},
	"sqrt":               {0, 0},
	"toBoolean":          {0, 0},
	"convertsToBoolean":  {0, 0},
	"toInteger":          {0, 0},
	"convertsToInteger":  {0, 0},
	"toLong":             {0, 0},
	"convertsToLong":     {0, 0},
	"toDate":             {0, 0},
	"convertsToDate":     {0, 0},
	"toDateTime":         {0, 0},
	"convertsToDateTime": {0, 0},
	"toTime":             {0, 0},
	"convertsToTime":     {0, 0},
	"toDecimal":          {0, 0},
	"convertsToDecimal":  {0, 0},
	"toQuantity":         {0, 1},
	"convertsToQuantity": {0, 1},
	"toString":           {0, 0},
	"convertsToString":   {0, 0},
	"children":           {0, 0},
	"descendants":        {0, 0},
	"trace":              {1, 2},
	"aggregate":          {1, 2},
	"now":                {0, 0},
	"timeOfDay":          {0, 0},
	"today":              {0, 0},
	"iif":                {2, 3},
	"yearOf":             {0, 0},
	"monthOf":            {0, 0},
	"dayOf":              {0, 0},
	"hourOf":             {0, 0},
	"minuteOf":           {0, 0},
	"secondOf":           {0, 0},
	"millisecondOf":      {0, 0},
	"timezoneOffsetOf":   {0, 0},
	"dateOf":             {0, 0},
	"timeOf":             {0, 0},
	"comparable":         {1, 1},
	"extension":          {1, 1},
	"hasValue":           {0, 0},
	"getValue":           {0, 0},
	"sum":                {0, 0},
	"min":                {0, 0},
	"max":                {0, 0},
	"avg":                {0, 0},
}

// requireArity reports an *ArityError if n falls outside the range the
// table declares for name. Unknown names are assumed correct here -- they
// either aren't callable (caught earlier by lookup) or are registered by
// WithFunctions after this table was built, and get the same lookup-time
// trust they always had.
func requireArity(name string, n int) error {
	r, ok := builtinArities[name]
	if !ok || r.accepts(n) {
		return nil
	}
	return newArityError(name, n, r.String())
}
