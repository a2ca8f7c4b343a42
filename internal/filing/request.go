// Package filing holds the caller's filing request. The wizard engine only
// ever reads it.
package filing

type Address struct {
	Street     string
	PostalCode string
	City       string
	// Country is an ISO 3166 alpha-2 code, "DE" when empty.
	Country string
}

func (a Address) CountryOrDefault() string {
	if a.Country == "" {
		return "DE"
	}
	return a.Country
}

// Applicant is either a NaturalPerson or a LegalEntity, the unexported
// method keeps the set closed.
type Applicant interface {
	applicant()
	ContactAddress() Address
}

type NaturalPerson struct {
	Salutation string
	FirstName  string
	LastName   string
	Address    Address
	Email      string
	Phone      string
}

func (NaturalPerson) applicant() {}

func (p NaturalPerson) ContactAddress() Address {
	return p.Address
}

type LegalEntity struct {
	Name      string
	LegalForm string
	Address   Address
	Email     string
	Phone     string
}

func (LegalEntity) applicant() {}

func (e LegalEntity) ContactAddress() Address {
	return e.Address
}

type Delivery struct {
	// UseApplicantAddress sends correspondence to the applicant's address,
	// Address is ignored when it is set.
	UseApplicantAddress bool
	Address             *Address
	Email               string
}

type MarkType string

const (
	MARK_WORD        MarkType = "word"
	MARK_FIGURATIVE  MarkType = "figurative"
	MARK_COMBINED    MarkType = "combined"
	MARK_THREE_DIMEN MarkType = "3d"
)

// HasImage reports whether marks of this type carry a representation file.
func (t MarkType) HasImage() bool {
	return t == MARK_FIGURATIVE || t == MARK_COMBINED || t == MARK_THREE_DIMEN
}

type Image struct {
	Data     []byte
	MimeType string
	FileName string
}

type Mark struct {
	Type        MarkType
	Text        string
	Description string
	Image       *Image
}

// ClassSelection selects goods and services of one Nice class, either the
// whole class heading, specific terms, or both.
type ClassSelection struct {
	Class  int
	Header bool
	Terms  []string
}

type Declarations struct {
	AcceleratedExamination bool
	ColorClaim             bool
	Colors                 string
	CertificationMark      bool
}

type PaymentMethod string

const (
	PAYMENT_BANK_TRANSFER     PaymentMethod = "bank_transfer"
	PAYMENT_SEPA_DIRECT_DEBIT PaymentMethod = "sepa_direct_debit"
)

type Payment struct {
	Method        PaymentMethod
	AccountHolder string
	IBAN          string
	BIC           string
}

type Sender struct {
	Name      string
	Confirmed bool
}

type Request struct {
	Applicant    Applicant
	Delivery     Delivery
	Mark         Mark
	Classes      []ClassSelection
	Declarations Declarations
	Payment      Payment
	Sender       Sender

	// LeadClass is the class proposed as lead class, 0 means the first
	// requested class.
	LeadClass int
}
