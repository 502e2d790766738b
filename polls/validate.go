package polls

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	FieldQuestion = "question"
	FieldOptions  = "options"
)

// CreatePollInput is the raw poll form. Validate expects the caller to have
// trimmed Question and run Options through NormalizeOptions.
type CreatePollInput struct {
	Question string   `form:"question" validate:"min=3"`
	Options  []string `form:"option" validate:"min=2,dive,required"`
}

var validate = validator.New()

// NormalizeOptions drops blank and whitespace-only entries and trims the rest.
func NormalizeOptions(options []string) []string {
	out := make([]string, 0, len(options))
	for _, o := range options {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate checks in against the poll shape rules and reports every violated
// field at once. It has no side effects.
func Validate(in CreatePollInput) (CreatePollInput, *Error) {
	err := validate.Struct(in)
	if err == nil {
		return in, nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return in, &Error{Kind: KindValidation, Message: "Invalid poll.", Err: err}
	}

	fields := make(map[string][]string)
	for _, fe := range fieldErrs {
		field, msg := describe(fe)
		if !contains(fields[field], msg) {
			fields[field] = append(fields[field], msg)
		}
	}
	return in, &Error{Kind: KindValidation, Message: "Invalid poll.", Fields: fields}
}

func describe(fe validator.FieldError) (string, string) {
	if strings.HasPrefix(fe.StructField(), "Question") {
		return FieldQuestion, "Question must be at least 3 characters long."
	}
	// dive errors name the element, e.g. Options[1]
	if fe.StructField() != "Options" {
		return FieldOptions, "Option cannot be empty."
	}
	return FieldOptions, "Must have at least 2 options."
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
