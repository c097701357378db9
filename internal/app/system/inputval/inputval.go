// internal/app/system/inputval/inputval.go
// Package inputval validates request DTOs declared with struct tags.
//
//	type registerRequest struct {
//		Email string `json:"email" validate:"required,email" label:"Email"`
//	}
//
// Supported rules: required, email, objectid, min=N and max=N (rune counts
// for strings).
package inputval

import (
	"fmt"
	"net/mail"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FieldError is one failed rule.
type FieldError struct {
	Field   string // json name of the field
	Rule    string
	Message string
}

// Result collects every failed rule of one Validate call.
type Result struct {
	Errors []FieldError
}

func (r *Result) HasErrors() bool { return len(r.Errors) > 0 }

// First returns the first message, or "".
func (r *Result) First() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

// FirstField returns the field of the first error, or "".
func (r *Result) FirstField() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Field
}

// All joins every message with "; ".
func (r *Result) All() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the exported string fields of the struct v (or pointer
// to one) against their validate tags. Rules on one field stop at the first
// failure.
func Validate(v any) *Result {
	res := &Result{}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return res
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return res
	}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		tag := sf.Tag.Get("validate")
		if tag == "" || !sf.IsExported() || sf.Type.Kind() != reflect.String {
			continue
		}
		label := sf.Tag.Get("label")
		if label == "" {
			label = sf.Name
		}
		field := jsonName(sf)
		value := strings.TrimSpace(rv.Field(i).String())
		for _, rule := range strings.Split(tag, ",") {
			if msg := check(rule, label, value); msg != "" {
				name, _, _ := strings.Cut(rule, "=")
				res.Errors = append(res.Errors, FieldError{Field: field, Rule: name, Message: msg})
				break
			}
		}
	}
	return res
}

func check(rule, label, value string) string {
	name, arg, _ := strings.Cut(strings.TrimSpace(rule), "=")
	switch name {
	case "required":
		if value == "" {
			return fmt.Sprintf("Поле «%s» обязательно.", label)
		}
	case "email":
		if value != "" && !IsValidEmail(value) {
			return "Укажите корректный email."
		}
	case "objectid":
		if value != "" && !IsValidObjectID(value) {
			return fmt.Sprintf("Поле «%s» содержит некорректный идентификатор.", label)
		}
	case "max":
		n, err := strconv.Atoi(arg)
		if err == nil && utf8.RuneCountInString(value) > n {
			return fmt.Sprintf("Поле «%s» должно быть не длиннее %d символов.", label, n)
		}
	case "min":
		n, err := strconv.Atoi(arg)
		if err == nil && value != "" && utf8.RuneCountInString(value) < n {
			return fmt.Sprintf("Поле «%s» должно быть не короче %d символов.", label, n)
		}
	}
	return ""
}

func jsonName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return sf.Name
	}
	return name
}

// IsValidEmail reports whether s is a bare address (no display name) with
// a well-formed local part and domain.
func IsValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s {
		return false
	}
	local, domain, ok := strings.Cut(s, "@")
	if !ok {
		return false
	}
	return dotted(local) && dotted(domain)
}

// dotted rejects empty parts, leading or trailing dots and double dots.
func dotted(s string) bool {
	if s == "" || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return false
	}
	return !strings.Contains(s, "..")
}

// IsValidObjectID reports whether s is a 24-character hex ObjectID.
func IsValidObjectID(s string) bool {
	_, err := primitive.ObjectIDFromHex(strings.TrimSpace(s))
	return err == nil
}
