package filing

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	postalCodeRegex = regexp.MustCompile(`^[0-9]{5}$`)
	ibanRegex       = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}$`)
	emailRegex      = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Validate checks the shape of a request before any network traffic happens.
// All problems are returned joined together.
func Validate(req Request) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch a := req.Applicant.(type) {
	case NaturalPerson:
		if a.FirstName == "" || a.LastName == "" {
			fail("applicant: first and last name are required")
		}
		validateAddress("applicant", a.Address, fail)
		if a.Email != "" && !emailRegex.MatchString(a.Email) {
			fail("applicant: invalid email %q", a.Email)
		}
	case LegalEntity:
		if a.Name == "" {
			fail("applicant: name is required")
		}
		validateAddress("applicant", a.Address, fail)
		if a.Email != "" && !emailRegex.MatchString(a.Email) {
			fail("applicant: invalid email %q", a.Email)
		}
	case nil:
		fail("applicant: missing")
	default:
		fail("applicant: unknown applicant type %T", a)
	}

	if !req.Delivery.UseApplicantAddress {
		if req.Delivery.Address == nil {
			fail("delivery: address required when not using the applicant address")
		} else {
			validateAddress("delivery", *req.Delivery.Address, fail)
		}
	}

	switch req.Mark.Type {
	case MARK_WORD:
		if strings.TrimSpace(req.Mark.Text) == "" {
			fail("mark: word marks need a text")
		}
	case MARK_FIGURATIVE, MARK_COMBINED, MARK_THREE_DIMEN:
		if req.Mark.Image == nil || len(req.Mark.Image.Data) == 0 {
			fail("mark: %s marks need an image", req.Mark.Type)
		}
	default:
		fail("mark: unknown mark type %q", req.Mark.Type)
	}

	if len(req.Classes) == 0 {
		fail("classes: at least one class is required")
	}
	for _, c := range req.Classes {
		if c.Class < 1 || c.Class > 45 {
			fail("classes: class %d out of range 1-45", c.Class)
		}
		if !c.Header && len(c.Terms) == 0 {
			fail("classes: class %d selects neither the heading nor terms", c.Class)
		}
	}
	if req.LeadClass != 0 && !containsClass(req.Classes, req.LeadClass) {
		fail("classes: lead class %d is not requested", req.LeadClass)
	}
	if req.Declarations.ColorClaim && req.Declarations.Colors == "" {
		fail("declarations: color claim without colors")
	}

	switch req.Payment.Method {
	case PAYMENT_BANK_TRANSFER:
	case PAYMENT_SEPA_DIRECT_DEBIT:
		if req.Payment.AccountHolder == "" {
			fail("payment: account holder required for direct debit")
		}
		iban := strings.ReplaceAll(req.Payment.IBAN, " ", "")
		if !ibanRegex.MatchString(iban) {
			fail("payment: invalid iban %q", req.Payment.IBAN)
		}
	default:
		fail("payment: unknown method %q", req.Payment.Method)
	}

	if req.Sender.Name == "" {
		fail("sender: name is required")
	}
	if !req.Sender.Confirmed {
		fail("sender: the filing must be confirmed")
	}

	return errors.Join(errs...)
}

func validateAddress(field string, a Address, fail func(string, ...any)) {
	if a.Street == "" || a.City == "" {
		fail("%s: street and city are required", field)
	}
	if a.CountryOrDefault() == "DE" && !postalCodeRegex.MatchString(a.PostalCode) {
		fail("%s: invalid postal code %q", field, a.PostalCode)
	}
}

func containsClass(selections []ClassSelection, class int) bool {
	for _, s := range selections {
		if s.Class == class {
			return true
		}
	}
	return false
}
