package app

import (
	"errors"
	"html"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// maxContentLength bounds the stored, sanitized form of a note.
const maxContentLength = 2000

var (
	validate  = newValidator()
	sanitizer = bluemonday.UGCPolicy()
	textOnly  = bluemonday.StrictPolicy()
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// Validate checks struct tags and reports rejected fields as a validation error.
func Validate(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return validationFailed("Invalid input", nil)
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return validationFailed(fieldMessage(fields[0]), fields)
}

func fieldMessage(fe FieldError) string {
	switch fe.Rule {
	case "required":
		return fe.Field + " is required"
	case "max":
		return fe.Field + " must be at most " + fe.Param + " characters"
	case "min":
		return fe.Field + " must be at least " + fe.Param + " characters"
	case "oneof":
		return fe.Field + " must be one of: " + fe.Param
	default:
		return fe.Field + " is invalid"
	}
}

// sanitizeContent strips unsafe markup. Content without visible text is
// rejected, as is content whose escaped form exceeds maxContentLength.
func sanitizeContent(raw string) (string, error) {
	clean := strings.TrimSpace(sanitizer.Sanitize(raw))
	if strings.TrimSpace(html.UnescapeString(textOnly.Sanitize(clean))) == "" {
		return "", validationFailed("content is required", []FieldError{{Field: "content", Rule: "required"}})
	}
	if utf8.RuneCountInString(clean) > maxContentLength {
		limit := FieldError{Field: "content", Rule: "max", Param: strconv.Itoa(maxContentLength)}
		return "", validationFailed(fieldMessage(limit), []FieldError{limit})
	}
	return clean, nil
}
