package schema

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// Form field names accepted by the apply endpoint.
const (
	FieldFullName   = "fullName"
	FieldEmail      = "email"
	FieldPhone      = "phone"
	FieldDepartment = "department"
	FieldReason     = "reason"
	FieldSkills     = "skills"
	FieldConsent    = "consent"
	FieldCSRFToken  = "csrfToken"
)

// ConsentState is the coerced form of the raw consent value.
type ConsentState int

const (
	ConsentMissing ConsentState = iota
	ConsentGiven
	ConsentRefused
)

// Input is the typed intermediate produced from an untrusted request body.
// It holds shape only; business rules are applied by Validate.
type Input struct {
	FullName   string
	Email      string
	Phone      string
	Department string
	Reason     string
	Skills     string
	Consent    ConsentState
	CSRFToken  string

	// fields whose raw value was not representable as a string
	mismatched []string
}

// FromMap coerces a decoded JSON object. Unknown keys are dropped.
func FromMap(raw map[string]any) Input {
	var in Input
	in.FullName = in.stringField(raw, FieldFullName)
	in.Email = in.stringField(raw, FieldEmail)
	in.Phone = in.stringField(raw, FieldPhone)
	in.Department = in.stringField(raw, FieldDepartment)
	in.Reason = in.stringField(raw, FieldReason)
	in.Skills = in.stringField(raw, FieldSkills)
	in.CSRFToken = in.stringField(raw, FieldCSRFToken)
	in.Consent = ParseConsent(raw[FieldConsent])
	return in
}

// FromForm coerces urlencoded or multipart text fields. Only the first value
// of a repeated field is used.
func FromForm(values url.Values) Input {
	in := Input{
		FullName:   strings.TrimSpace(values.Get(FieldFullName)),
		Email:      strings.TrimSpace(values.Get(FieldEmail)),
		Phone:      strings.TrimSpace(values.Get(FieldPhone)),
		Department: strings.TrimSpace(values.Get(FieldDepartment)),
		Reason:     strings.TrimSpace(values.Get(FieldReason)),
		Skills:     strings.TrimSpace(values.Get(FieldSkills)),
		CSRFToken:  strings.TrimSpace(values.Get(FieldCSRFToken)),
		Consent:    ConsentMissing,
	}
	if _, ok := values[FieldConsent]; ok {
		in.Consent = ParseConsent(values.Get(FieldConsent))
	}
	return in
}

// ParseConsent maps the HTML-form and JSON encodings of a checkbox onto a
// consent state. Only true, "true", "on", "1" and 1 count as consent.
func ParseConsent(v any) ConsentState {
	switch val := v.(type) {
	case nil:
		return ConsentMissing
	case bool:
		if val {
			return ConsentGiven
		}
		return ConsentRefused
	case string:
		token := strings.ToLower(strings.TrimSpace(val))
		switch token {
		case "":
			return ConsentMissing
		case "true", "on", "1":
			return ConsentGiven
		}
		return ConsentRefused
	case float64:
		if val == 1 {
			return ConsentGiven
		}
		return ConsentRefused
	case int:
		if val == 1 {
			return ConsentGiven
		}
		return ConsentRefused
	case json.Number:
		if val.String() == "1" {
			return ConsentGiven
		}
		return ConsentRefused
	default:
		return ConsentRefused
	}
}

func (in *Input) stringField(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		in.mismatched = append(in.mismatched, key)
		return ""
	}
}
