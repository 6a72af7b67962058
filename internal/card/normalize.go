package card

import "strings"

const (
	// DefaultHonorific is written on every created record.
	DefaultHonorific = "様"
	// DefaultNote marks records created through the bot.
	DefaultNote = "created by slackbot"

	// emptyMarker is what the extraction model emits when it wants to
	// say "nothing here" without returning null.
	emptyMarker = "/"
)

// telReplacer converts parenthesised phone notation to hyphenated
// form, for both ASCII and full-width parentheses.
var telReplacer = strings.NewReplacer("(", "-", ")", "-", "（", "-", "）", "-")

// CleanValue normalizes an extracted field value: the "/" empty marker
// becomes an empty string, everything else passes through.
func CleanValue(v string) string {
	if v == emptyMarker {
		return ""
	}
	return v
}

// CleanTel normalizes a phone-like value, e.g. "03(1234)5678"
// becomes "03-1234-5678".
func CleanTel(v string) string {
	v = CleanValue(v)
	if v == "" {
		return ""
	}
	return telReplacer.Replace(v)
}

// Fields maps a record to the store field set, applying the
// normalization rules above plus the fixed honorific and note.
func Fields(r Record) FieldData {
	return FieldData{
		Name:        CleanValue(r.Name),
		NameKana:    CleanValue(r.NameKana),
		Honorific:   DefaultHonorific,
		ZipCode:     CleanValue(r.ZipCode),
		Address1:    CleanValue(r.Address1),
		Address2:    CleanValue(r.Address2),
		Company:     CleanValue(r.Company),
		CompanyKana: CleanValue(r.CompanyKana),
		URL:         CleanValue(r.CompanyURL),
		Department:  CleanValue(r.Department),
		JobTitle:    CleanValue(r.JobTitle),
		Tel:         CleanTel(r.Tel),
		Tel2:        CleanTel(r.Tel2),
		TelMobile:   CleanTel(r.TelMobile),
		Fax:         CleanTel(r.Fax),
		Email:       CleanValue(r.Email),
		EmailMobile: CleanValue(r.Email2),
		Note:        DefaultNote,
	}
}
