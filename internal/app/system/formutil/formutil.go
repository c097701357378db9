// Package formutil decodes request input for the JSON handlers: bodies,
// and object ids taken from the URL path.
//
// Example usage:
//
//	var in createInput
//	if err := formutil.Decode(w, r, &in); err != nil {
//		h.ErrLog.LogBadRequest(w, r, "decode create task", err, formutil.BadBodyMessage)
//		return
//	}
//	companyID, err := formutil.PathID(r, "id")
package formutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"

	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MaxBodyBytes caps every JSON request body.
const MaxBodyBytes = 64 << 10

// BadBodyMessage is shown when a body cannot be decoded.
const BadBodyMessage = "Некорректный запрос."

// ErrEmptyBody is returned by Decode for a request with no body.
var ErrEmptyBody = errors.New("empty request body")

// Decode reads one JSON object from r into dst, which must be a non-nil
// pointer. Unknown fields are ignored and trailing data is an error. dst is
// left untouched when an error is returned.
func Decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("decode body: %w", err)
	}
	if dec.More() {
		return errors.New("decode body: trailing data")
	}

	out := reflect.ValueOf(dst)
	if out.Kind() != reflect.Pointer || out.IsNil() {
		return fmt.Errorf("decode body: destination %T is not a non-nil pointer", dst)
	}
	fresh := reflect.New(out.Type().Elem())
	if err := json.Unmarshal(raw, fresh.Interface()); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	out.Elem().Set(fresh.Elem())
	return nil
}

// DecodeOptional is Decode that treats a missing body as an empty object.
func DecodeOptional(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := Decode(w, r, dst); err != nil && !errors.Is(err, ErrEmptyBody) {
		return err
	}
	return nil
}

// PathID parses the chi URL parameter name as an ObjectID. A malformed id
// cannot name anything, so it is reported as not found.
func PathID(r *http.Request, name string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, name))
	if err != nil {
		return primitive.NilObjectID, apperr.NotFound("Объект не найден")
	}
	return id, nil
}
