package wizard_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tmfiling-backend/internal/components/telemetry"
	"tmfiling-backend/internal/filing"
	"tmfiling-backend/internal/termsearch"
	"tmfiling-backend/internal/wizard"
	"tmfiling-backend/internal/wizard/wizardtest"

	"github.com/stretchr/testify/require"
)

func wordMarkRequest() filing.Request {
	return filing.Request{
		Applicant: filing.NaturalPerson{
			Salutation: "Frau",
			FirstName:  "Erika",
			LastName:   "Mustermann",
			Address: filing.Address{
				Street:     "Heidestrasse 17",
				PostalCode: "51147",
				City:       "Koeln",
			},
			Email: "erika@example.org",
		},
		Delivery: filing.Delivery{UseApplicantAddress: true},
		Mark: filing.Mark{
			Type: filing.MARK_WORD,
			Text: "Nordlicht",
		},
		Classes: []filing.ClassSelection{
			{Class: 9, Header: true},
			{Class: 42, Header: true},
		},
		Payment: filing.Payment{Method: filing.PAYMENT_BANK_TRANSFER},
		Sender:  filing.Sender{Name: "Erika Mustermann", Confirmed: true},
	}
}

type harness struct {
	server *wizardtest.Server
	tel    *telemetry.RecorderAPI
	engine *wizard.Engine
}

func newHarness(t *testing.T, opts wizardtest.Options, configure func(o *wizard.Options)) harness {
	server := wizardtest.New(t, opts)
	tel := telemetry.NewRecorderAPI()

	transport, err := wizard.NewTransport(wizard.TransportOptions{
		BaseUrl:           server.URL,
		RequestsPerSecond: 1000,
	}, tel)
	require.NoError(t, err)

	engineOpts := wizard.Options{
		Transport:      transport,
		Endpoints:      server.Endpoints,
		AttemptID:      "attempt-1",
		HeaderFallback: wizard.UnverifiedHeaderFallback,
	}
	if configure != nil {
		configure(&engineOpts)
	}

	return harness{
		server: server,
		tel:    tel,
		engine: wizard.NewEngine(engineOpts, tel),
	}
}

func defaultHeaders() map[int]string {
	return map[int]string{9: "g7f3", 42: "k2a9", 35: "m1b4"}
}

func TestRunWordMark(t *testing.T) {
	h := newHarness(t, wizardtest.Options{HeaderIDs: defaultHeaders()}, nil)

	session, err := h.engine.Run(context.Background(), wordMarkRequest())
	require.NoError(t, err)
	require.Equal(t, 8, session.Cursor)
	require.Equal(t, "TX-20240901-0001", session.TransactionReference)
	require.Equal(t, "attempt-1", session.AttemptID)
	require.Empty(t, session.Warnings)
	require.Equal(t, wizard.STATE_FINALIZED, h.engine.State())
	require.Equal(t, len(h.server.Requests()), session.RoundTrips)

	applicant, ok := h.server.StepSubmission("applicant")
	require.True(t, ok)
	require.Equal(t, "NATUERLICHE_PERSON", applicant.Form.Get("editor:applicantType_input"))
	require.Equal(t, "Erika", applicant.Form.Get("editor:applicant:firstName"))
	require.Equal(t, "51147", applicant.Form.Get("editor:applicant:zip"))
	require.Equal(t, "DE", applicant.Form.Get("editor:applicant:country_input"))
	require.Equal(t, "true", applicant.Form.Get("javax.faces.partial.ajax"))

	representative, ok := h.server.StepSubmission("representative")
	require.True(t, ok)
	require.Empty(t, representative.Form.Get("editor:applicant:firstName"))

	delivery, ok := h.server.StepSubmission("delivery")
	require.True(t, ok)
	require.Equal(t, "on", delivery.Form.Get("editor:delivery:useApplicantAddress_input"))

	classification, ok := h.server.StepSubmission("classification")
	require.True(t, ok)
	require.Equal(t, "on", classification.Form.Get("editor:tmClassTree:class_9:g7f3:chkSelect_input"))
	require.Equal(t, "on", classification.Form.Get("editor:tmClassTree:class_42:k2a9:chkSelect_input"))
	require.Equal(t, "9", classification.Form.Get("editor:leadClass_input"))
	require.Equal(t, []string{
		"editor:tmClassTree:class_9:g7f3:chkSelect",
		"editor:tmClassTree:class_42:k2a9:chkSelect",
	}, h.server.Selected())

	payment, ok := h.server.StepSubmission("payment")
	require.True(t, ok)
	require.Equal(t, "UEBERWEISUNG", payment.Form.Get("editor:payment:method_input"))

	final, ok := h.server.StepSubmission("final")
	require.True(t, ok)
	require.Equal(t, "0", final.Form.Get("editor:j_id_7b:itemsPanel_active"))
	require.Equal(t, "1", final.Form.Get("editor:j_id_7c:itemsPanel_active"))
	require.Equal(t, "on", final.Form.Get("editor:confirmation_input"))
	require.Equal(t, "Erika Mustermann", final.Form.Get("editor:sender:name"))
}

func TestRunTrademarkSelectorFirst(t *testing.T) {
	h := newHarness(t, wizardtest.Options{HeaderIDs: defaultHeaders()}, nil)

	_, err := h.engine.Run(context.Background(), wordMarkRequest())
	require.NoError(t, err)

	var trademark []wizardtest.Request
	for _, r := range h.server.Requests() {
		if r.Step == "trademark" {
			trademark = append(trademark, r)
		}
	}
	require.Len(t, trademark, 2)

	require.Equal(t, "editor:markType", trademark[0].Source)
	require.Equal(t, "change", trademark[0].Event)
	require.Equal(t, "WORTMARKE", trademark[0].Form.Get("editor:markType_input"))
	require.Empty(t, trademark[0].Form.Get("editor:markText"))

	require.Equal(t, "editor:btnNext", trademark[1].Source)
	require.Equal(t, "Nordlicht", trademark[1].Form.Get("editor:markText"))
}

func TestTokenMonotonicity(t *testing.T) {
	h := newHarness(t, wizardtest.Options{
		HeaderIDs: defaultHeaders(),
		OmitNonce: map[int]bool{2: true, 3: true, 7: true},
	}, nil)

	_, err := h.engine.Run(context.Background(), wordMarkRequest())
	require.NoError(t, err)

	requests := h.server.Requests()
	require.NotEmpty(t, requests)

	expected := wizard.Tokens{
		ViewState: "vs-0",
		WindowID:  wizardtest.SessionBase + ":0",
		Nonce:     "nonce-0",
	}
	for i, r := range requests {
		require.Equal(t, expected, r.Sent, "request %d", i)
		require.Equal(t, expected.WindowID, r.Query.Get("jfwid"), "request %d", i)

		expected.ViewState = r.Issued.ViewState
		expected.WindowID = r.Issued.WindowID
		if r.Issued.Nonce != "" {
			expected.Nonce = r.Issued.Nonce
		}
	}
}

func TestRunFailureAtStep(t *testing.T) {
	cases := []struct {
		name    string
		step    string
		index   int
		mode    wizardtest.FailMode
		kind    wizard.FailureKind
		message string
	}{
		{name: "applicant", step: "applicant", index: 1, kind: wizard.KIND_SERVER, message: "Bitte pruefen Sie Ihre Eingaben"},
		{name: "delivery", step: "delivery", index: 3, kind: wizard.KIND_SERVER, message: "Bitte pruefen Sie Ihre Eingaben"},
		{name: "classification", step: "classification", index: 5, kind: wizard.KIND_SERVER, message: "Bitte pruefen Sie Ihre Eingaben"},
		{name: "payment", step: "payment", index: 7, kind: wizard.KIND_SERVER, message: "Bitte pruefen Sie Ihre Eingaben"},
		{name: "final", step: "final", index: 8, kind: wizard.KIND_SERVER, message: "Bitte pruefen Sie Ihre Eingaben"},
		{
			name:    "delivery left by partial redirect",
			step:    "delivery",
			index:   3,
			mode:    wizardtest.FAIL_PARTIAL_REDIRECT,
			kind:    wizard.KIND_SERVER,
			message: "left the wizard for /DpmaDirektWebEditoren/sessionExpired.xhtml",
		},
		{
			name:    "applicant left by http redirect",
			step:    "applicant",
			index:   1,
			mode:    wizardtest.FAIL_HTTP_REDIRECT,
			kind:    wizard.KIND_TRANSPORT,
			message: "sessionExpired.xhtml",
		},
		{
			name:    "payment left by http redirect",
			step:    "payment",
			index:   7,
			mode:    wizardtest.FAIL_HTTP_REDIRECT,
			kind:    wizard.KIND_TRANSPORT,
			message: "sessionExpired.xhtml",
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t, wizardtest.Options{
				HeaderIDs:   defaultHeaders(),
				FailStep:    test.step,
				FailMessage: "Bitte pruefen Sie Ihre Eingaben",
				FailMode:    test.mode,
			}, nil)

			session, err := h.engine.Run(context.Background(), wordMarkRequest())
			require.Error(t, err)

			var stepErr *wizard.StepError
			require.True(t, errors.As(err, &stepErr))
			require.Equal(t, test.index, stepErr.Step)
			require.Equal(t, test.step, stepErr.Name)
			require.Equal(t, test.kind, stepErr.Kind)
			require.Contains(t, stepErr.Message, test.message)

			require.Equal(t, test.index-1, session.Cursor)
			require.Empty(t, session.TransactionReference)
			require.Equal(t, wizard.STATE_FAILED, h.engine.State())
			require.True(t, h.tel.Has("broken", "engine.step"))

			_, later := h.server.StepSubmission("final")
			require.Equal(t, test.step == "final", later)
		})
	}
}

func TestRunPartialTermResolution(t *testing.T) {
	h := newHarness(t, wizardtest.Options{
		HeaderIDs: defaultHeaders(),
		SearchResults: map[string][]string{
			"Computer software": {"Computer software", "Computer software for games"},
			"Computer hardware": {"Computer hardware"},
		},
	}, nil)

	req := wordMarkRequest()
	req.Classes = []filing.ClassSelection{{
		Class: 9,
		Terms: []string{"Computer software", "Quantum widgets", "Computer hardware"},
	}}

	session, err := h.engine.Run(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 8, session.Cursor)
	require.Len(t, session.Warnings, 1)
	require.Contains(t, session.Warnings[0], "Quantum widgets")
	require.True(t, h.tel.Has("warning", "resolver.resolve-terms"))

	classification, ok := h.server.StepSubmission("classification")
	require.True(t, ok)

	var selected []string
	for name, values := range classification.Form {
		if strings.HasPrefix(name, "editor:termSearchResults:") && strings.HasSuffix(name, ":chkSelect_input") {
			require.Equal(t, []string{"on"}, values)
			selected = append(selected, name)
		}
	}
	require.Len(t, selected, 2)
	require.Len(t, h.server.Selected(), 2)
	require.Equal(t, "9", classification.Form.Get("editor:leadClass_input"))
}

func TestRunHeaderAndTermsCombined(t *testing.T) {
	h := newHarness(t, wizardtest.Options{
		HeaderIDs: defaultHeaders(),
		SearchResults: map[string][]string{
			"Clothing": {"Clothing", "Clothing for pets"},
		},
	}, nil)

	req := wordMarkRequest()
	req.Classes = []filing.ClassSelection{
		{Class: 9, Header: true, Terms: []string{"Clothing"}},
	}

	session, err := h.engine.Run(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, session.Warnings)
	require.Len(t, h.server.Selected(), 2)
	require.Equal(t, "editor:tmClassTree:class_9:g7f3:chkSelect", h.server.Selected()[0])
}

func TestRunTermValidationMissIsWarning(t *testing.T) {
	index := termsearch.NewIndex(map[int][]string{9: {"Computer software"}}, telemetry.NewRecorderAPI())
	h := newHarness(t, wizardtest.Options{
		HeaderIDs: defaultHeaders(),
		SearchResults: map[string][]string{
			"Smart glasses": {"Smart glasses"},
		},
	}, func(o *wizard.Options) {
		o.Terms = index
	})

	req := wordMarkRequest()
	req.Classes = []filing.ClassSelection{{Class: 9, Terms: []string{"Smart glasses"}}}

	session, err := h.engine.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, session.Warnings, 1)
	require.Contains(t, session.Warnings[0], "Smart glasses")
	require.True(t, h.tel.Has("warning", "engine.validate-terms"))
	// the server vocabulary decides, the term was still selected
	require.Len(t, h.server.Selected(), 1)
}

func TestRunHeaderFallback(t *testing.T) {
	h := newHarness(t, wizardtest.Options{HeaderIDs: map[int]string{9: "g7f3"}}, nil)

	req := wordMarkRequest()
	req.Classes = []filing.ClassSelection{
		{Class: 9, Header: true},
		{Class: 35, Header: true},
	}

	session, err := h.engine.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, session.Warnings, 1)
	require.Contains(t, session.Warnings[0], "unverified")
	require.Contains(t, h.server.Selected(), "editor:tmClassTree:class_35:header:chkSelect")

	classification, ok := h.server.StepSubmission("classification")
	require.True(t, ok)
	require.Equal(t, "on", classification.Form.Get("editor:tmClassTree:class_35:header:chkSelect_input"))
}

func TestRunHeaderFallbackDisabled(t *testing.T) {
	h := newHarness(t, wizardtest.Options{HeaderIDs: map[int]string{42: "k2a9"}}, func(o *wizard.Options) {
		o.HeaderFallback = nil
	})

	req := wordMarkRequest()
	req.LeadClass = 9

	session, err := h.engine.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, session.Warnings, 1)
	require.Contains(t, session.Warnings[0], "class 9")

	classification, ok := h.server.StepSubmission("classification")
	require.True(t, ok)
	// class 9 could not be selected, the lead moves to the next resolved class
	require.Equal(t, "42", classification.Form.Get("editor:leadClass_input"))
	require.Equal(t, []string{"editor:tmClassTree:class_42:k2a9:chkSelect"}, h.server.Selected())
}

func TestRunInlineTransactionReference(t *testing.T) {
	h := newHarness(t, wizardtest.Options{
		HeaderIDs:     defaultHeaders(),
		FinalMode:     wizardtest.FINAL_INLINE,
		TransactionID: "TX-INLINE-42",
	}, nil)

	session, err := h.engine.Run(context.Background(), wordMarkRequest())
	require.NoError(t, err)
	require.Equal(t, "TX-INLINE-42", session.TransactionReference)
}

func TestRunWithoutTransactionReference(t *testing.T) {
	h := newHarness(t, wizardtest.Options{
		HeaderIDs: defaultHeaders(),
		FinalMode: wizardtest.FINAL_NONE,
	}, nil)

	session, err := h.engine.Run(context.Background(), wordMarkRequest())
	require.ErrorIs(t, err, wizard.ErrNoTransactionReference)

	var stepErr *wizard.StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, 8, stepErr.Step)
	require.Equal(t, wizard.KIND_PROTOCOL, stepErr.Kind)
	require.Equal(t, 7, session.Cursor)
}

func TestRunBlankTransactionReference(t *testing.T) {
	h := newHarness(t, wizardtest.Options{
		HeaderIDs:     defaultHeaders(),
		FinalMode:     wizardtest.FINAL_REDIRECT,
		TransactionID: "%20%20",
	}, nil)

	session, err := h.engine.Run(context.Background(), wordMarkRequest())
	require.ErrorIs(t, err, wizard.ErrNoTransactionReference)

	var stepErr *wizard.StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, 8, stepErr.Step)
	require.Equal(t, wizard.KIND_PROTOCOL, stepErr.Kind)
	require.Equal(t, 7, session.Cursor)
	require.Empty(t, session.TransactionReference)
}

func TestBootstrapMissingViewState(t *testing.T) {
	h := newHarness(t, wizardtest.Options{BootstrapWithoutViewState: true}, nil)

	session, err := h.engine.Run(context.Background(), wordMarkRequest())
	require.ErrorIs(t, err, wizard.ErrMissingViewState)

	var stepErr *wizard.StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, 0, stepErr.Step)
	require.Equal(t, wizard.KIND_PROTOCOL, stepErr.Kind)
	require.Equal(t, 0, session.Cursor)
	require.Empty(t, h.server.Requests())
}

func TestBootstrapWindowFromRedirect(t *testing.T) {
	h := newHarness(t, wizardtest.Options{
		HeaderIDs:                    defaultHeaders(),
		BootstrapWithoutClientWindow: true,
	}, nil)

	_, err := h.engine.Run(context.Background(), wordMarkRequest())
	require.NoError(t, err)

	requests := h.server.Requests()
	require.Equal(t, wizardtest.SessionBase+":0", requests[0].Sent.WindowID)
}

func TestBootstrapTransportFailure(t *testing.T) {
	h := newHarness(t, wizardtest.Options{}, func(o *wizard.Options) {
		o.Endpoints.Start = "/DpmaDirektWebEditoren/missing.xhtml"
	})

	_, err := h.engine.Run(context.Background(), wordMarkRequest())

	var stepErr *wizard.StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, 0, stepErr.Step)
	require.Equal(t, wizard.KIND_TRANSPORT, stepErr.Kind)

	var transportErr *wizard.TransportError
	require.True(t, errors.As(err, &transportErr))
	require.Equal(t, 404, transportErr.Status)
}

func TestRunOnlyOnce(t *testing.T) {
	h := newHarness(t, wizardtest.Options{HeaderIDs: defaultHeaders()}, nil)

	_, err := h.engine.Run(context.Background(), wordMarkRequest())
	require.NoError(t, err)

	_, err = h.engine.Run(context.Background(), wordMarkRequest())
	require.ErrorIs(t, err, wizard.ErrEngineUsed)
}

func TestRunLegalEntityWithDirectDebit(t *testing.T) {
	h := newHarness(t, wizardtest.Options{HeaderIDs: defaultHeaders()}, nil)

	req := wordMarkRequest()
	req.Applicant = filing.LegalEntity{
		Name:      "Nordlicht Software",
		LegalForm: "GmbH",
		Address: filing.Address{
			Street:     "Zweibrueckenstrasse 12",
			PostalCode: "80331",
			City:       "Muenchen",
		},
	}
	req.Delivery = filing.Delivery{Address: &filing.Address{
		Street:     "Postfach 100",
		PostalCode: "80333",
		City:       "Muenchen",
	}}
	req.Declarations = filing.Declarations{AcceleratedExamination: true}
	req.Payment = filing.Payment{
		Method:        filing.PAYMENT_SEPA_DIRECT_DEBIT,
		AccountHolder: "Nordlicht Software GmbH",
		IBAN:          "DE89 3704 0044 0532 0130 00",
	}

	_, err := h.engine.Run(context.Background(), req)
	require.NoError(t, err)

	applicant, _ := h.server.StepSubmission("applicant")
	require.Equal(t, "JURISTISCHE_PERSON", applicant.Form.Get("editor:applicantType_input"))
	require.Equal(t, "Nordlicht Software", applicant.Form.Get("editor:applicant:companyName"))
	require.Empty(t, applicant.Form.Get("editor:applicant:firstName"))

	delivery, _ := h.server.StepSubmission("delivery")
	require.Equal(t, "80333", delivery.Form.Get("editor:delivery:zip"))
	require.Empty(t, delivery.Form.Get("editor:delivery:useApplicantAddress_input"))

	declarations, _ := h.server.StepSubmission("declarations")
	require.Equal(t, "on", declarations.Form.Get("editor:options:acceleratedExamination_input"))

	payment, _ := h.server.StepSubmission("payment")
	require.Equal(t, "SEPA_LASTSCHRIFT", payment.Form.Get("editor:payment:method_input"))
	require.Equal(t, "DE89370400440532013000", payment.Form.Get("editor:payment:iban"))
}
