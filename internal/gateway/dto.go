package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 16

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50,excludes=@"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
	FullName string `json:"full_name" validate:"omitempty,max=255"`
}

type loginRequest struct {
	// Identifier is an email or a username. "email" and "username" are accepted as aliases.
	Identifier string `json:"identifier" validate:"required"`
	Email      string `json:"email" validate:"-"`
	Username   string `json:"username" validate:"-"`
	Password   string `json:"password" validate:"required"`
}

func (l *loginRequest) normalize() {
	if l.Identifier == "" {
		l.Identifier = l.Email
	}
	if l.Identifier == "" {
		l.Identifier = l.Username
	}
	l.Identifier = strings.TrimSpace(l.Identifier)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,jwt"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,jwt"`
}

// normalizer is implemented by requests that fill derived fields before validation.
type normalizer interface{ normalize() }

// validationError carries per-field messages keyed by JSON name.
type validationError struct {
	fields map[string]string
}

func (e *validationError) Error() string { return "validation failed" }

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// maxbytes bounds the UTF-8 length; max counts runes.
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= n
	})
	return v
}

// decode reads a JSON body into dst and validates it. An empty body decodes as {}.
func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &validationError{fields: map[string]string{"body": "malformed JSON: " + err.Error()}}
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	if err := g.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return err
		}
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = fieldMessage(fe)
		}
		return &validationError{fields: fields}
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email", fe.Field())
	case "jwt":
		return fmt.Sprintf("%s must be a JWT", fe.Field())
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "maxbytes":
		return fmt.Sprintf("%s must be at most %s bytes", fe.Field(), fe.Param())
	case "excludes":
		return fmt.Sprintf("%s must not contain '%s'", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s validation failed on '%s'", fe.Field(), fe.Tag())
	}
}

func writeInvalid(w http.ResponseWriter, err error) {
	var ve *validationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "validation failed", Error: "INVALID_ARGUMENT", Fields: ve.fields})
		return
	}
	writeFail(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request")
}
