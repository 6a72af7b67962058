package card

// ExtractionSchema is the JSON schema the extraction model must
// follow when parsing a card image. Descriptions carry the formatting
// rules (full-width name spacing, half-width kana, hyphenated
// numbers) that the model is expected to apply.
var ExtractionSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	// Strict structured output requires every property key listed
	// here; optional fields are expressed by the null unions below.
	"required": []string{
		"name", "name_kana", "company", "company_kana", "department",
		"job_title", "tel", "tel_2", "tel_mobile", "fax",
		"email", "email_2", "company_url", "zip_code",
		"address_1", "address_2", "is_valid_image",
	},
	"properties": map[string]any{
		"name": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Full name as printed, full-width space between family and given name (e.g. 田中　太郎)",
		},
		"name_kana": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Name reading in half-width katakana; may be inferred from romaji or the email local part",
		},
		"company": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Company name",
		},
		"company_kana": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Company name reading; leave empty rather than guessing",
		},
		"department": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Department",
		},
		"job_title": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Job title",
		},
		"tel": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Primary phone number, hyphen separated",
		},
		"tel_2": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Second phone number if present, hyphen separated",
		},
		"tel_mobile": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Mobile number if present, hyphen separated",
		},
		"fax": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Fax number if present",
		},
		"email": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Email address",
		},
		"email_2": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Second email address if present",
		},
		"company_url": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Company website URL",
		},
		"zip_code": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Postal code as 000-0000, adding the hyphen when missing",
		},
		"address_1": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Prefecture, city and street address",
		},
		"address_2": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Building name and floor",
		},
		"is_valid_image": map[string]any{
			"type":        "boolean",
			"description": "Whether the image is a parseable business card",
		},
	},
}
