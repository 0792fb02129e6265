package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
)

const maxBodySize = 64 << 10

// DecodeError is a malformed request body. It is reported as 400.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// ErrorKind implements apperr.Kinded.
func (e *DecodeError) ErrorKind() apperr.Kind { return apperr.KindValidation }

// fields maps accepted keys to their decoders. Any other key is rejected.
type fields map[string]func(d *jx.Decoder) error

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, &DecodeError{Reason: "cannot read request body"}
	}
	if len(data) > maxBodySize {
		return nil, &DecodeError{Reason: "request body too large"}
	}
	return data, nil
}

// decodeObject decodes a single JSON object strictly: unknown or repeated
// keys, wrong value types and trailing data all fail.
func decodeObject(data []byte, f fields) error {
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return &DecodeError{Reason: "request body must be a JSON object"}
	}
	if err := decodeFields(d, f); err != nil {
		return err
	}
	if d.Next() != jx.Invalid {
		return &DecodeError{Reason: "unexpected data after JSON object"}
	}
	return nil
}

func decodeFields(d *jx.Decoder, f fields) error {
	seen := make(map[string]struct{}, len(f))
	var fieldErr *DecodeError
	err := d.Obj(func(d *jx.Decoder, key string) error {
		fn, ok := f[key]
		if !ok {
			fieldErr = &DecodeError{Field: key, Reason: "unknown field"}
			return fieldErr
		}
		if _, dup := seen[key]; dup {
			fieldErr = &DecodeError{Field: key, Reason: "duplicate field"}
			return fieldErr
		}
		seen[key] = struct{}{}
		if err := fn(d); err != nil {
			var nested *DecodeError
			if errors.As(err, &nested) {
				if nested.Field != "" {
					nested = &DecodeError{Field: key + "." + nested.Field, Reason: nested.Reason}
				} else {
					nested = &DecodeError{Field: key, Reason: nested.Reason}
				}
				fieldErr = nested
				return fieldErr
			}
			fieldErr = &DecodeError{Field: key, Reason: "invalid value"}
			return fieldErr
		}
		return nil
	})
	if fieldErr != nil {
		return fieldErr
	}
	if err != nil {
		return &DecodeError{Reason: "malformed JSON"}
	}
	return nil
}

func expect(d *jx.Decoder, t jx.Type, what string) error {
	if got := d.Next(); got != t {
		return &DecodeError{Reason: "expected " + what}
	}
	return nil
}

func str(dst *string) func(d *jx.Decoder) error {
	return func(d *jx.Decoder) error {
		if err := expect(d, jx.String, "string"); err != nil {
			return err
		}
		v, err := d.Str()
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

// optStr accepts a string or null.
func optStr(dst *string) func(d *jx.Decoder) error {
	return func(d *jx.Decoder) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		return str(dst)(d)
	}
}

func integer(dst *int) func(d *jx.Decoder) error {
	return func(d *jx.Decoder) error {
		if err := expect(d, jx.Number, "integer"); err != nil {
			return err
		}
		n, err := d.Num()
		if err != nil {
			return err
		}
		v, err := strconv.Atoi(string(n))
		if err != nil {
			return &DecodeError{Reason: "expected integer"}
		}
		*dst = v
		return nil
	}
}

// money accepts a JSON number and keeps it exact.
func money(dst *decimal.Decimal) func(d *jx.Decoder) error {
	return func(d *jx.Decoder) error {
		if err := expect(d, jx.Number, "number"); err != nil {
			return err
		}
		n, err := d.Num()
		if err != nil {
			return err
		}
		v, err := decimal.NewFromString(string(n))
		if err != nil {
			return &DecodeError{Reason: "expected number"}
		}
		*dst = v
		return nil
	}
}

func array(each func(d *jx.Decoder) error) func(d *jx.Decoder) error {
	return func(d *jx.Decoder) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		if err := expect(d, jx.Array, "array"); err != nil {
			return err
		}
		return d.Arr(each)
	}
}

func object(f fields) func(d *jx.Decoder) error {
	return func(d *jx.Decoder) error {
		if err := expect(d, jx.Object, "object"); err != nil {
			return err
		}
		return decodeFields(d, f)
	}
}

func writeJSON(w http.ResponseWriter, status int, enc func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	enc(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Raw([]byte(v.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func strField(e *jx.Encoder, name, v string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

func moneyField(e *jx.Encoder, name string, v decimal.Decimal) {
	e.Field(name, func(e *jx.Encoder) { encodeMoney(e, v) })
}
