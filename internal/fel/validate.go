package fel

import "fmt"

// vatPercent is the Guatemalan IVA rate applied to the taxable amount.
const vatPercent = 12

// ValidationResult reports the outcome of invoice validation. Totals
// echo the parsed amounts as decimal strings.
type ValidationResult struct {
	OK     bool              `json:"ok"`
	Issues []string          `json:"issues"`
	Totals map[string]string `json:"totals"`
}

// requiredFields maps field labels to accessors, in report order.
var requiredFields = []struct {
	name string
	get  func(*Invoice) string
}{
	{"numero_autorizacion", func(i *Invoice) string { return i.Autorizacion }},
	{"nit", func(i *Invoice) string { return i.NITEmisor }},
	{"id_receptor", func(i *Invoice) string { return i.IDReceptor }},
	{"monto", func(i *Invoice) string { return i.Monto }},
}

// Validate checks VAT consistency (12% of the taxable amount, rounded
// half-up), that total = subtotal + VAT, and that the fields needed
// for SAT verification are present. Mismatches within one cent are
// tolerated, matching certifier rounding behavior.
func Validate(inv *Invoice) *ValidationResult {
	issues := []string{}

	expectedIVA := roundHalfUpPercent(inv.SubtotalCents, vatPercent)
	expectedTotal := inv.SubtotalCents + expectedIVA

	if diff := abs64(inv.IVACents - expectedIVA); diff > 1 {
		issues = append(issues, fmt.Sprintf("VAT mismatch: expected %s got %s",
			FormatCents(expectedIVA), FormatCents(inv.IVACents)))
	}
	if diff := abs64(inv.TotalCents - expectedTotal); diff > 1 {
		issues = append(issues, fmt.Sprintf("Total mismatch: expected %s got %s",
			FormatCents(expectedTotal), FormatCents(inv.TotalCents)))
	}

	for _, rf := range requiredFields {
		if rf.get(inv) == "" {
			issues = append(issues, fmt.Sprintf("Missing field: %s", rf.name))
		}
	}

	return &ValidationResult{
		OK:     len(issues) == 0,
		Issues: issues,
		Totals: map[string]string{
			"subtotal": FormatCents(inv.SubtotalCents),
			"iva":      FormatCents(inv.IVACents),
			"total":    FormatCents(inv.TotalCents),
		},
	}
}

// roundHalfUpPercent computes cents * percent / 100 with half-up
// rounding, in integer arithmetic.
func roundHalfUpPercent(cents int64, percent int64) int64 {
	return (cents*percent + 50) / 100
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
