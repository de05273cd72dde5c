// Package validation sanitizes and validates request input and detects injection payloads in
// decoded JSON before it is persisted.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"security-gateway/backend/internal/apierror"
	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/server/interceptors"
)

// FieldError describes one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// FieldErrors is returned by ValidateStruct.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	if len(fe) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.Message
	}
	return strings.Join(parts, "; ")
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Validator is the InputValidator: struct rules, sanitization and injection detection.
type Validator struct {
	validate *validator.Validate
	events   event.Recorder
	limits   Limits
}

// New returns a Validator reporting injection findings to events (may be nil).
func New(events event.Recorder) *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("safe_text", func(fl validator.FieldLevel) bool {
		return len(DetectInjection(fl.Field().String())) == 0
	})
	return &Validator{validate: v, events: event.OrNop(events), limits: DefaultLimits()}
}

// ValidateStruct applies `validate` tags to s and returns FieldErrors on failure.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("validation: %w", err)
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(FieldErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Rule: fe.Tag(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", fe.Field())
	case "email":
		return fmt.Sprintf("field '%s' must be a valid email address", fe.Field())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s long", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s long", fe.Field(), fe.Param())
	case "uuid", "uuid4":
		return fmt.Sprintf("field '%s' must be a valid UUID", fe.Field())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of [%s]", fe.Field(), fe.Param())
	case "safe_text":
		return fmt.Sprintf("field '%s' contains disallowed content", fe.Field())
	default:
		return fmt.Sprintf("field '%s' failed on '%s'", fe.Field(), fe.Tag())
	}
}

// CheckPayload scans a decoded payload for injection. Findings are recorded and reported as a
// Threat error naming no detail.
func (v *Validator) CheckPayload(ctx context.Context, ip string, payload any) error {
	findings := DetectInjectionWithLimits(payload, v.limits)
	if len(findings) == 0 {
		return nil
	}
	first := findings[0]
	v.events.Record(ctx, event.New(event.TypeInjectionDetected, event.SeverityHigh, ip).
		With("path", first.Path).
		With("threat", string(first.Type)).
		With("count", len(findings)))
	return apierror.Threat(apierror.CodeThreatDetected)
}

// DecodeJSON reads the request body, scans the raw document for injection payloads, sanitizes
// every string and decodes the result into dst, then validates struct tags. Unknown fields are
// rejected. Errors are apierror values ready to write.
func (v *Validator) DecodeJSON(r *http.Request, dst any) error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apierror.TooLarge()
		}
		return apierror.Wrap(apierror.KindValidation, apierror.CodeValidation, "Unreadable request body", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return apierror.Validation("Request body is required")
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return apierror.Wrap(apierror.KindValidation, apierror.CodeValidation, "Malformed JSON body", err)
	}
	if err := v.CheckPayload(r.Context(), interceptors.GetClientIP(r.Context()), doc); err != nil {
		return err
	}

	clean, err := json.Marshal(Sanitize(doc))
	if err != nil {
		return apierror.Internal(err)
	}
	dec = json.NewDecoder(bytes.NewReader(clean))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apierror.Wrap(apierror.KindValidation, apierror.CodeValidation, "Malformed JSON body", err)
	}
	if err := v.ValidateStruct(dst); err != nil {
		var fe FieldErrors
		if errors.As(err, &fe) {
			return apierror.Wrap(apierror.KindValidation, apierror.CodeValidation, fe.Error(), err)
		}
		return apierror.Internal(err)
	}
	return nil
}
