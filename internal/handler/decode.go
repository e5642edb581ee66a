package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// FieldErrors maps a JSON field path such as items[0].quantity to a message.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	var b strings.Builder
	for field, msg := range e {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(field + ": " + msg)
	}
	return b.String()
}

// Decoder decodes JSON request bodies and validates them against their
// validate tags. Field paths use the json names.
type Decoder struct {
	validate *validator.Validate
}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Decoder{validate: v}
}

// DecodeAndValidate reads the body into dst and validates it. Both syntax
// and validation problems are returned as FieldErrors.
func (d *Decoder) DecodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, dst); err != nil {
		return bodyError(err)
	}
	return d.Validate(dst)
}

// DecodeOptional is DecodeAndValidate for endpoints whose body may be
// omitted. An empty body, chunked or not, leaves dst at its zero value.
func (d *Decoder) DecodeOptional(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, dst); err != nil && !errors.Is(err, io.EOF) {
		return bodyError(err)
	}
	return d.Validate(dst)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func bodyError(err error) FieldErrors {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return FieldErrors{typeErr.Field: "invalid type, expected " + typeErr.Type.String()}
	}
	return FieldErrors{"body": "malformed JSON: " + err.Error()}
}

// Validate runs struct validation only.
func (d *Decoder) Validate(v any) error {
	err := d.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		out[fieldPath(fe)] = fieldMessage(fe)
	}
	return out
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " item(s)"
		}
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "alphanum":
		return "must contain only letters and digits"
	default:
		return "invalid value"
	}
}
