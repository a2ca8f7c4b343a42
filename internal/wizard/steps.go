package wizard

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"tmfiling-backend/internal/filing"
)

const (
	report_step_classification = "engine.classification"
	report_step_terms          = "engine.validate-terms"
)

// server side option values
const (
	applicant_natural = "NATUERLICHE_PERSON"
	applicant_legal   = "JURISTISCHE_PERSON"

	payment_bank_transfer = "UEBERWEISUNG"
	payment_direct_debit  = "SEPA_LASTSCHRIFT"

	checked = "on"
)

var markTypeValues = map[filing.MarkType]string{
	filing.MARK_WORD:        "WORTMARKE",
	filing.MARK_FIGURATIVE:  "BILDMARKE",
	filing.MARK_COMBINED:    "WORT_BILDMARKE",
	filing.MARK_THREE_DIMEN: "DREIDIMENSIONALE_MARKE",
}

// submitStep sends the field set of the current step through the wizard's
// next button.
func (e *Engine) submitStep(ctx context.Context, s Session, fields url.Values) (Session, exchange, error) {
	if fields == nil {
		fields = url.Values{}
	}
	fields.Set(component_next_button, component_next_button)
	return e.roundTrip(ctx, s, envelope{
		source:  component_next_button,
		execute: component_wizard_panel,
		render:  component_wizard_panel + " " + component_messages,
		fields:  fields,
	})
}

func setAddress(fields url.Values, prefix string, a filing.Address) {
	fields.Set(prefix+":street", a.Street)
	fields.Set(prefix+":zip", a.PostalCode)
	fields.Set(prefix+":city", a.City)
	fields.Set(prefix+":country_input", a.CountryOrDefault())
}

func setOptional(fields url.Values, name, value string) {
	if value != "" {
		fields.Set(name, value)
	}
}

func applicantFields(applicant filing.Applicant) (url.Values, error) {
	const prefix = "editor:applicant"

	fields := url.Values{}
	switch a := applicant.(type) {
	case filing.NaturalPerson:
		fields.Set("editor:applicantType_input", applicant_natural)
		setOptional(fields, prefix+":salutation_input", a.Salutation)
		fields.Set(prefix+":firstName", a.FirstName)
		fields.Set(prefix+":lastName", a.LastName)
		setAddress(fields, prefix, a.Address)
		setOptional(fields, prefix+":email", a.Email)
		setOptional(fields, prefix+":phone", a.Phone)
	case filing.LegalEntity:
		fields.Set("editor:applicantType_input", applicant_legal)
		fields.Set(prefix+":companyName", a.Name)
		setOptional(fields, prefix+":legalForm", a.LegalForm)
		setAddress(fields, prefix, a.Address)
		setOptional(fields, prefix+":email", a.Email)
		setOptional(fields, prefix+":phone", a.Phone)
	default:
		return nil, newRequestError("unsupported applicant %T", applicant)
	}
	return fields, nil
}

func (e *Engine) applicantStep(ctx context.Context, s Session, req filing.Request) (Session, error) {
	fields, err := applicantFields(req.Applicant)
	if err != nil {
		return s, err
	}
	s, _, err = e.submitStep(ctx, s, fields)
	return s, err
}

// representativeStep files without a representative. The server still
// counts the page, so it costs a round trip.
func (e *Engine) representativeStep(ctx context.Context, s Session, _ filing.Request) (Session, error) {
	s, _, err := e.submitStep(ctx, s, url.Values{})
	return s, err
}

func deliveryFields(d filing.Delivery) (url.Values, error) {
	const prefix = "editor:delivery"

	fields := url.Values{}
	switch {
	case d.UseApplicantAddress:
		fields.Set(prefix+":useApplicantAddress_input", checked)
	case d.Address != nil:
		setAddress(fields, prefix, *d.Address)
	default:
		return nil, newRequestError("delivery without address")
	}
	setOptional(fields, prefix+":email", d.Email)
	return fields, nil
}

func (e *Engine) deliveryStep(ctx context.Context, s Session, req filing.Request) (Session, error) {
	fields, err := deliveryFields(req.Delivery)
	if err != nil {
		return s, err
	}
	s, _, err = e.submitStep(ctx, s, fields)
	return s, err
}

// trademarkStep announces the mark type first, uploads the representation
// for image marks and only then submits the descriptive fields. The server
// drops content that arrives in the same request as the type change.
func (e *Engine) trademarkStep(ctx context.Context, s Session, req filing.Request) (Session, error) {
	markType, ok := markTypeValues[req.Mark.Type]
	if !ok {
		return s, newRequestError("unsupported mark type %q", req.Mark.Type)
	}

	selector := url.Values{}
	selector.Set(component_mark_type+"_input", markType)
	s, _, err := e.roundTrip(ctx, s, envelope{
		source:  component_mark_type,
		execute: component_mark_type,
		render:  component_mark_panel,
		event:   "change",
		fields:  selector,
	})
	if err != nil {
		return s, fmt.Errorf("select mark type: %w", err)
	}

	if req.Mark.Type.HasImage() {
		if req.Mark.Image == nil {
			return s, newRequestError("%s mark without image", req.Mark.Type)
		}
		s, err = e.upload(ctx, s, *req.Mark.Image)
		if err != nil {
			return s, fmt.Errorf("upload: %w", err)
		}
	}

	fields := url.Values{}
	fields.Set(component_mark_type+"_input", markType)
	setOptional(fields, "editor:markText", req.Mark.Text)
	setOptional(fields, "editor:markDescription", req.Mark.Description)
	s, _, err = e.submitStep(ctx, s, fields)
	return s, err
}

// validateTerms asks the term service about explicit terms. The server's
// vocabulary is authoritative, so a miss is only a warning.
func (e *Engine) validateTerms(ctx context.Context, s Session, selection filing.ClassSelection) Session {
	if e.terms == nil {
		return s
	}
	for _, term := range selection.Terms {
		validation, err := e.terms.Validate(ctx, term, selection.Class)
		if err != nil {
			e.tel.ReportBroken(report_step_terms, err, term, selection.Class)
			continue
		}
		if validation.Found {
			continue
		}
		suggestions := make([]string, 0, len(validation.Suggestions))
		for _, m := range validation.Suggestions {
			suggestions = append(suggestions, m.Term)
		}
		s = e.warn(
			s, report_step_terms,
			"term %q is not in the vocabulary of class %d (suggestions: %s)",
			term, selection.Class, strings.Join(suggestions, ", "),
		)
	}
	return s
}

func (e *Engine) classificationStep(ctx context.Context, s Session, req filing.Request) (Session, error) {
	fields := url.Values{}
	resolved := map[int]bool{}

	for _, selection := range req.Classes {
		s = e.validateTerms(ctx, s, selection)

		if selection.Header {
			var id DynamicFieldID
			var found bool
			var err error
			s, id, found, err = e.ResolveHeader(ctx, s, selection.Class)
			if err != nil {
				return s, fmt.Errorf("class %d heading: %w", selection.Class, err)
			}
			if found {
				fields.Set(string(id)+"_input", checked)
				resolved[selection.Class] = true
			}
		}

		if len(selection.Terms) > 0 {
			var ids map[string]DynamicFieldID
			var err error
			s, ids, err = e.ResolveTerms(ctx, s, selection.Class, selection.Terms)
			if err != nil {
				return s, fmt.Errorf("class %d terms: %w", selection.Class, err)
			}
			// request order keeps the submission deterministic
			for _, term := range selection.Terms {
				id, ok := ids[term]
				if !ok {
					continue
				}
				fields.Set(string(id)+"_input", checked)
				resolved[selection.Class] = true
			}
		}
	}

	lead, ok := leadClass(req, resolved)
	if ok {
		fields.Set(component_lead_class+"_input", strconv.Itoa(lead))
	} else {
		s = e.warn(s, report_step_classification, "no classification item could be resolved")
	}

	s, _, err := e.submitStep(ctx, s, fields)
	return s, err
}

// leadClass picks the requested lead class when it was resolved, otherwise
// the first requested class with any resolved selection.
func leadClass(req filing.Request, resolved map[int]bool) (int, bool) {
	if req.LeadClass != 0 && resolved[req.LeadClass] {
		return req.LeadClass, true
	}
	for _, selection := range req.Classes {
		if resolved[selection.Class] {
			return selection.Class, true
		}
	}
	return 0, false
}

func declarationFields(d filing.Declarations) url.Values {
	const prefix = "editor:options"

	fields := url.Values{}
	if d.AcceleratedExamination {
		fields.Set(prefix+":acceleratedExamination_input", checked)
	}
	if d.ColorClaim {
		fields.Set(prefix+":colorClaim_input", checked)
		fields.Set(prefix+":colors", d.Colors)
	}
	if d.CertificationMark {
		fields.Set(prefix+":certificationMark_input", checked)
	}
	return fields
}

func (e *Engine) declarationsStep(ctx context.Context, s Session, req filing.Request) (Session, error) {
	s, _, err := e.submitStep(ctx, s, declarationFields(req.Declarations))
	return s, err
}

func paymentFields(p filing.Payment) (url.Values, error) {
	const prefix = "editor:payment"

	fields := url.Values{}
	switch p.Method {
	case filing.PAYMENT_BANK_TRANSFER:
		fields.Set(prefix+":method_input", payment_bank_transfer)
	case filing.PAYMENT_SEPA_DIRECT_DEBIT:
		fields.Set(prefix+":method_input", payment_direct_debit)
		fields.Set(prefix+":accountHolder", p.AccountHolder)
		fields.Set(prefix+":iban", strings.ReplaceAll(p.IBAN, " ", ""))
		setOptional(fields, prefix+":bic", p.BIC)
	default:
		return nil, newRequestError("unsupported payment method %q", p.Method)
	}
	return fields, nil
}

func (e *Engine) paymentStep(ctx context.Context, s Session, req filing.Request) (Session, error) {
	fields, err := paymentFields(req.Payment)
	if err != nil {
		return s, err
	}
	s, _, err = e.submitStep(ctx, s, fields)
	return s, err
}
