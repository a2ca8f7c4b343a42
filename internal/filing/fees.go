package filing

// fee schedule for electronic trademark filings, amounts in euro cents
const (
	FEE_FILING_ELECTRONIC       = 29000
	FEE_PER_ADDITIONAL_CLASS    = 10000
	FEE_ACCELERATED_EXAMINATION = 20000

	classesIncludedInFilingFee = 3
)

type FeeItem struct {
	Label       string
	AmountCents int64
}

type FeeSummary struct {
	Items      []FeeItem
	TotalCents int64
	Currency   string
	Method     PaymentMethod
}

// Fees computes what the filing will cost, it does not depend on anything
// the remote server returns.
func Fees(req Request) FeeSummary {
	summary := FeeSummary{
		Currency: "EUR",
		Method:   req.Payment.Method,
	}
	add := func(label string, amount int64) {
		summary.Items = append(summary.Items, FeeItem{Label: label, AmountCents: amount})
		summary.TotalCents += amount
	}

	add("filing fee (up to 3 classes)", FEE_FILING_ELECTRONIC)

	classes := distinctClasses(req.Classes)
	if extra := classes - classesIncludedInFilingFee; extra > 0 {
		add("additional class fee", int64(extra)*FEE_PER_ADDITIONAL_CLASS)
	}
	if req.Declarations.AcceleratedExamination {
		add("accelerated examination", FEE_ACCELERATED_EXAMINATION)
	}

	return summary
}

func distinctClasses(selections []ClassSelection) int {
	seen := map[int]struct{}{}
	for _, s := range selections {
		seen[s.Class] = struct{}{}
	}
	return len(seen)
}
