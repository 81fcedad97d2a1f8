package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"aluastro/pkg/domain"
)

// FieldError is one failing field and the reason it failed.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError aggregates every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether field failed validation.
func (e *ValidationError) Has(field string) bool {
	_, ok := e.Reason(field)
	return ok
}

// Reason returns the failure reason recorded for field.
func (e *ValidationError) Reason(field string) (string, bool) {
	for _, f := range e.Fields {
		if f.Field == field {
			return f.Reason, true
		}
	}
	return "", false
}

const (
	ReasonRequired        = "is required"
	ReasonConsentRequired = "must be accepted"
	ReasonNotString       = "must be a string"
	ReasonInvalidEmail    = "must be a valid email address"
)

var fieldOrder = []string{
	FieldFullName,
	FieldEmail,
	FieldPhone,
	FieldDepartment,
	FieldReason,
	FieldSkills,
	FieldConsent,
}

type applicationRules struct {
	FullName string `json:"fullName" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Reason   string `json:"reason" validate:"required,min=10,max=1000"`
	Skills   string `json:"skills" validate:"omitempty,max=500"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate applies the application rules to in. On failure the returned error
// is a *ValidationError listing every failing field in form order.
func Validate(in Input) (domain.Application, error) {
	reasons := make(map[string]string)

	err := validate.Struct(applicationRules{
		FullName: in.FullName,
		Email:    in.Email,
		Reason:   in.Reason,
		Skills:   in.Skills,
	})
	if err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return domain.Application{}, fmt.Errorf("validate application: %w", err)
		}
		for _, fe := range fieldErrs {
			reasons[fe.Field()] = reasonFor(fe)
		}
	}
	for _, field := range in.mismatched {
		reasons[field] = ReasonNotString
	}
	switch in.Consent {
	case ConsentMissing:
		reasons[FieldConsent] = ReasonRequired
	case ConsentRefused:
		reasons[FieldConsent] = ReasonConsentRequired
	}

	if len(reasons) > 0 {
		verr := &ValidationError{}
		for _, field := range fieldOrder {
			if reason, ok := reasons[field]; ok {
				verr.Fields = append(verr.Fields, FieldError{Field: field, Reason: reason})
			}
		}
		return domain.Application{}, verr
	}

	return domain.Application{
		FullName:   in.FullName,
		Email:      in.Email,
		Phone:      optional(in.Phone),
		Department: optional(in.Department),
		Reason:     in.Reason,
		Skills:     optional(in.Skills),
		Consent:    true,
	}, nil
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return ReasonRequired
	case "email":
		return ReasonInvalidEmail
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "is invalid"
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
