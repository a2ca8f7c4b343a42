package filing

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

type addressFile struct {
	Street     string `json:"street"`
	PostalCode string `json:"postal_code"`
	City       string `json:"city"`
	Country    string `json:"country"`
}

func (a addressFile) address() Address {
	return Address{
		Street:     a.Street,
		PostalCode: a.PostalCode,
		City:       a.City,
		Country:    a.Country,
	}
}

type applicantFile struct {
	// Kind is either "natural" or "legal".
	Kind       string      `json:"kind"`
	Salutation string      `json:"salutation"`
	FirstName  string      `json:"first_name"`
	LastName   string      `json:"last_name"`
	Name       string      `json:"name"`
	LegalForm  string      `json:"legal_form"`
	Address    addressFile `json:"address"`
	Email      string      `json:"email"`
	Phone      string      `json:"phone"`
}

type classFile struct {
	Class  int      `json:"class"`
	Header bool     `json:"header"`
	Terms  []string `json:"terms"`
}

// RequestFile is the on-disk (json5) shape of a Request.
type RequestFile struct {
	Applicant applicantFile `json:"applicant"`
	Delivery  struct {
		UseApplicantAddress bool         `json:"use_applicant_address"`
		Address             *addressFile `json:"address"`
		Email               string       `json:"email"`
	} `json:"delivery"`
	Mark struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Description string `json:"description"`
		// ImagePath is resolved relative to the request file.
		ImagePath string `json:"image_path"`
	} `json:"mark"`
	Classes      []classFile `json:"classes"`
	LeadClass    int         `json:"lead_class"`
	Declarations struct {
		AcceleratedExamination bool   `json:"accelerated_examination"`
		ColorClaim             bool   `json:"color_claim"`
		Colors                 string `json:"colors"`
		CertificationMark      bool   `json:"certification_mark"`
	} `json:"declarations"`
	Payment struct {
		Method        string `json:"method"`
		AccountHolder string `json:"account_holder"`
		IBAN          string `json:"iban"`
		BIC           string `json:"bic"`
	} `json:"payment"`
	Sender struct {
		Name      string `json:"name"`
		Confirmed bool   `json:"confirmed"`
	} `json:"sender"`
}

// ReadRequestFile decodes a json5 request file.
func ReadRequestFile(path string) (Request, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return Request{}, err
	}
	var file RequestFile
	err = json5.Unmarshal(contents, &file)
	if err != nil {
		return Request{}, fmt.Errorf("decode request file: %w", err)
	}
	return file.Request(filepath.Dir(path))
}

// Request converts the file shape into a Request, baseDir is used to
// resolve the mark image.
func (f RequestFile) Request(baseDir string) (Request, error) {
	var applicant Applicant
	switch f.Applicant.Kind {
	case "natural":
		applicant = NaturalPerson{
			Salutation: f.Applicant.Salutation,
			FirstName:  f.Applicant.FirstName,
			LastName:   f.Applicant.LastName,
			Address:    f.Applicant.Address.address(),
			Email:      f.Applicant.Email,
			Phone:      f.Applicant.Phone,
		}
	case "legal":
		applicant = LegalEntity{
			Name:      f.Applicant.Name,
			LegalForm: f.Applicant.LegalForm,
			Address:   f.Applicant.Address.address(),
			Email:     f.Applicant.Email,
			Phone:     f.Applicant.Phone,
		}
	default:
		return Request{}, fmt.Errorf("unknown applicant kind %q", f.Applicant.Kind)
	}

	req := Request{
		Applicant: applicant,
		Delivery: Delivery{
			UseApplicantAddress: f.Delivery.UseApplicantAddress,
			Email:               f.Delivery.Email,
		},
		Mark: Mark{
			Type:        MarkType(f.Mark.Type),
			Text:        f.Mark.Text,
			Description: f.Mark.Description,
		},
		LeadClass: f.LeadClass,
		Declarations: Declarations{
			AcceleratedExamination: f.Declarations.AcceleratedExamination,
			ColorClaim:             f.Declarations.ColorClaim,
			Colors:                 f.Declarations.Colors,
			CertificationMark:      f.Declarations.CertificationMark,
		},
		Payment: Payment{
			Method:        PaymentMethod(f.Payment.Method),
			AccountHolder: f.Payment.AccountHolder,
			IBAN:          f.Payment.IBAN,
			BIC:           f.Payment.BIC,
		},
		Sender: Sender{
			Name:      f.Sender.Name,
			Confirmed: f.Sender.Confirmed,
		},
	}
	if f.Delivery.Address != nil {
		addr := f.Delivery.Address.address()
		req.Delivery.Address = &addr
	}
	for _, c := range f.Classes {
		req.Classes = append(req.Classes, ClassSelection{
			Class:  c.Class,
			Header: c.Header,
			Terms:  c.Terms,
		})
	}

	if f.Mark.ImagePath != "" {
		imagePath := f.Mark.ImagePath
		if !filepath.IsAbs(imagePath) {
			imagePath = filepath.Join(baseDir, imagePath)
		}
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return Request{}, fmt.Errorf("read mark image: %w", err)
		}
		req.Mark.Image = &Image{
			Data:     data,
			MimeType: mime.TypeByExtension(filepath.Ext(imagePath)),
			FileName: filepath.Base(imagePath),
		}
	}

	return req, nil
}
