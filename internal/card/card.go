// Package card defines the business-card record types shared by the
// extraction, reconciliation and reporting layers.
package card

// Image is one attached business-card photo. It exists only for the
// duration of a single batch request.
type Image struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Record is the structured output of vision extraction. Every string
// field is optional; an empty value means "not found on the card",
// not an error. Field names follow the extraction response schema.
type Record struct {
	Name        string `json:"name"`
	NameKana    string `json:"name_kana"`
	Company     string `json:"company"`
	CompanyKana string `json:"company_kana"`
	Department  string `json:"department"`
	JobTitle    string `json:"job_title"`
	Tel         string `json:"tel"`
	Tel2        string `json:"tel_2"`
	TelMobile   string `json:"tel_mobile"`
	Fax         string `json:"fax"`
	Email       string `json:"email"`
	Email2      string `json:"email_2"`
	CompanyURL  string `json:"company_url"`
	ZipCode     string `json:"zip_code"`
	Address1    string `json:"address_1"`
	Address2    string `json:"address_2"`

	// IsValidImage reports whether the model judged the source image
	// to be a parseable business card at all.
	IsValidImage bool `json:"is_valid_image"`
}

// DisplayName returns the name with kana reading when available,
// e.g. "田中　太郎 (ﾀﾅｶ ﾀﾛｳ)".
func (r Record) DisplayName() string {
	if r.NameKana == "" {
		return r.Name
	}
	return r.Name + " (" + r.NameKana + ")"
}

// FieldData is the store-facing field set for one card record. JSON
// tags match the FileMaker layout field names, which are Japanese.
type FieldData struct {
	Name        string `json:"氏名"`
	NameKana    string `json:"氏名カナ"`
	Honorific   string `json:"敬称"`
	ZipCode     string `json:"郵便番号"`
	Address1    string `json:"住所1"`
	Address2    string `json:"住所2"`
	Company     string `json:"会社名"`
	CompanyKana string `json:"会社名カナ"`
	URL         string `json:"URL"`
	Department  string `json:"部署名1"`
	JobTitle    string `json:"部署名2_役職"`
	Tel         string `json:"電話1"`
	Tel2        string `json:"電話2"`
	TelMobile   string `json:"携帯電話"`
	Fax         string `json:"FAX"`
	Email       string `json:"Eﾒｰﾙ"`
	EmailMobile string `json:"携帯メール"`
	Note        string `json:"備考"`
}
