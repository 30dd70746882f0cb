package fhirpath

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/iimos/ucum"
	"github.com/iimos/ucum/ucumapd"
)

// calendarToUCUM maps the FHIRPath calendar-duration keywords onto their
// UCUM time-unit codes, per the FHIRPath "Quantity equality" section: a
// calendar duration is comparable to its UCUM counterpart only below the
// "greater than a second" boundary (§ calendarEqualityRestricted).
var calendarToUCUM = map[string]string{
	UnitYear:        "a",
	UnitMonth:       "mo",
	UnitWeek:        "wk",
	UnitDay:         "d",
	UnitHour:        "h",
	UnitMinute:      "min",
	UnitSecond:      "s",
	UnitMillisecond: "ms",
}

var ucumToCalendar = func() map[string]string {
	m := make(map[string]string, len(calendarToUCUM))
	for calendar, code := range calendarToUCUM {
		m[code] = calendar
	}
	return m
}()

// canonicalUCUMUnit resolves a FHIRPath quantity unit (a calendar keyword,
// a UCUM code, or the dimensionless '1') to its canonical UCUM code.
func canonicalUCUMUnit(unit string) string {
	trimmed := strings.Trim(unit, "'")
	if trimmed == "" || trimmed == "1" {
		return "1"
	}
	if code, ok := calendarToUCUM[normalizeTimeUnit(trimmed)]; ok {
		return code
	}
	u, err := ucum.Parse(trimmed)
	if err != nil {
		// Not a recognized UCUM expression (e.g. a bare calendar word that
		// isTimeUnit didn't catch, or a unit string the model doesn't know);
		// fall back to the literal text so arithmetic can still compare
		// identical units even when UCUM can't canonicalize them.
		return trimmed
	}
	return u.String()
}

// displayQuantityUnit renders a canonical UCUM code back to the spelling a
// user expects to see: calendar codes render as calendar words, everything
// else renders as UCUM's own canonical string form.
func displayQuantityUnit(unit String) string {
	code := string(unit)
	if calendar, ok := ucumToCalendar[code]; ok {
		return calendar
	}
	return code
}

// isUCUMTimeUnit reports whether code is one of UCUM's own definite-length
// time units (as opposed to the variable-length calendar durations 'a'/'mo').
func isUCUMTimeUnit(code string) bool {
	switch code {
	case "s", "min", "h", "d", "wk", "ms":
		return true
	default:
		return false
	}
}

// convertDecimalUnit converts value from one UCUM-canonical unit to another
// using the UCUM conversion tables, honoring the FHIRPath rule that calendar
// durations above a second (year, month) may not cross into UCUM's definite
// time quantities above a second, and vice versa.
func convertDecimalUnit(ctx context.Context, value *apd.Decimal, from, to string) (*apd.Decimal, error) {
	if from == to {
		return value, nil
	}
	if from == "1" || to == "1" {
		return nil, newDomainError("quantity conversion", fmt.Sprintf("can not convert dimensionless quantity to %q", to))
	}

	_, fromIsVariable := map[string]bool{"a": true, "mo": true}[from]
	_, toIsVariable := map[string]bool{"a": true, "mo": true}[to]
	if fromIsVariable != toIsVariable && (isUCUMTimeUnit(from) || isUCUMTimeUnit(to)) {
		return nil, newDomainError("quantity conversion", fmt.Sprintf(
			"can not convert between calendar duration %q and UCUM time unit %q above a second boundary",
			from, to,
		))
	}

	fromUnit, err := ucum.Parse(from)
	if err != nil {
		return nil, fmt.Errorf("unrecognized unit %q: %w", from, err)
	}
	toUnit, err := ucum.Parse(to)
	if err != nil {
		return nil, fmt.Errorf("unrecognized unit %q: %w", to, err)
	}

	converter, err := ucumapd.NewConverter(fromUnit, toUnit)
	if err != nil {
		return nil, fmt.Errorf("can not convert %q to %q: %w", from, to, err)
	}

	var out apd.Decimal
	if _, err := converter.Convert(apdContext(ctx), &out, value); err != nil {
		return nil, fmt.Errorf("can not convert %q to %q: %w", from, to, err)
	}
	return &out, nil
}
