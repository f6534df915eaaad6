package push

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"pushbot/pkg/tgui"
)

// NoParam is the parameter type of handlers that take no parameter.
type NoParam struct{}

// paramJSON keeps numbers as json.Number so integer parameters survive the
// map round-trip without float rounding.
var paramJSON = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
	UseNumber:        true,
}.Froze()

// Convert turns a stored or in-memory parameter into P.
//
// Order of attempts:
//  1. absent (nil, empty or JSON null) yields the zero P without conversion
//  2. raw already of type P is returned unchanged
//  3. scalar coercion (numeric widening/narrowing without loss, string <-> number/bool)
//  4. structural conversion through JSON for maps, slices and raw JSON
//
// Failure is a *ParamError and is never retryable.
func Convert[P any](raw any) (P, error) {
	var zero P
	if isAbsent(raw) {
		return zero, nil
	}
	if v, ok := raw.(P); ok {
		return v, nil
	}
	var out P
	if err := convertInto(raw, &out); err != nil {
		return zero, &ParamError{Want: typeName[P](), Got: describe(raw), Err: err}
	}
	return out, nil
}

// MarshalParam encodes an in-memory parameter for storage.
func MarshalParam(v any) (json.RawMessage, error) {
	if isAbsent(v) {
		return nil, nil
	}
	switch x := v.(type) {
	case json.RawMessage:
		if !json.Valid(x) {
			return nil, errors.New("parameter is not valid JSON")
		}
		return x, nil
	case []byte:
		if !json.Valid(x) {
			return nil, errors.New("parameter is not valid JSON")
		}
		return json.RawMessage(x), nil
	}
	b, err := paramJSON.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func typeName[P any]() string {
	t := reflect.TypeOf((*P)(nil)).Elem()
	return t.String()
}

func isAbsent(raw any) bool {
	switch x := raw.(type) {
	case nil:
		return true
	case json.RawMessage:
		return isNullJSON(x)
	case []byte:
		return isNullJSON(x)
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func isNullJSON(b []byte) bool {
	t := bytes.TrimSpace(b)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func convertInto(raw any, out any) error {
	dst := reflect.ValueOf(out).Elem()

	// Raw JSON from the store: decode directly, fall back to scalar coercion
	// ("42" into an int, 1 into a string, ...).
	if b, ok := rawJSON(raw); ok {
		if err := paramJSON.Unmarshal(b, out); err == nil {
			return nil
		} else if !isScalarKind(indirectType(dst.Type()).Kind()) {
			return err
		}
		var v any
		if err := paramJSON.Unmarshal(b, &v); err != nil {
			return err
		}
		return coerceScalar(v, dst)
	}

	if isScalarKind(indirectType(dst.Type()).Kind()) {
		return coerceScalar(raw, dst)
	}

	b, err := paramJSON.Marshal(raw)
	if err != nil {
		return err
	}
	return paramJSON.Unmarshal(b, out)
}

func rawJSON(raw any) ([]byte, bool) {
	switch x := raw.(type) {
	case json.RawMessage:
		return x, true
	case []byte:
		return x, true
	}
	return nil, false
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func isScalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func coerceScalar(v any, dst reflect.Value) error {
	if dst.Kind() == reflect.Pointer {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return coerceScalar(v, dst.Elem())
	}
	src := reflect.ValueOf(v)
	if !src.IsValid() {
		return errors.New("nil value")
	}
	if src.Type().ConvertibleTo(dst.Type()) && src.Kind() == dst.Kind() {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}

	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(src)
		if err != nil {
			return err
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("%d overflows %s", n, dst.Type())
		}
		dst.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toUint64(src)
		if err != nil {
			return err
		}
		if dst.OverflowUint(n) {
			return fmt.Errorf("%d overflows %s", n, dst.Type())
		}
		dst.SetUint(n)
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(src)
		if err != nil {
			return err
		}
		if dst.OverflowFloat(f) {
			return fmt.Errorf("%g overflows %s", f, dst.Type())
		}
		dst.SetFloat(f)
		return nil
	case reflect.String:
		s, err := toString(src)
		if err != nil {
			return err
		}
		dst.SetString(s)
		return nil
	case reflect.Bool:
		b, err := toBool(src)
		if err != nil {
			return err
		}
		dst.SetBool(b)
		return nil
	}
	return fmt.Errorf("unsupported target kind %s", dst.Kind())
}

func toInt64(v reflect.Value) (int64, error) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fmt.Errorf("%g is not an integer", f)
		}
		return int64(f), nil
	case reflect.String:
		s := strings.TrimSpace(v.String())
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", s)
		}
		return toInt64(reflect.ValueOf(f))
	}
	return 0, fmt.Errorf("cannot use %s as integer", v.Type())
}

func toUint64(v reflect.Value) (uint64, error) {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), nil
	case reflect.String:
		s := strings.TrimSpace(v.String())
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return n, nil
		}
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%d is negative", n)
	}
	return uint64(n), nil
}

func toFloat64(v reflect.Value) (float64, error) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), nil
	case reflect.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v.String())
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot use %s as number", v.Type())
}

func toString(v reflect.Value) (string, error) {
	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	}
	return "", fmt.Errorf("cannot use %s as string", v.Type())
}

func toBool(v reflect.Value) (bool, error) {
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.String:
		b, err := strconv.ParseBool(strings.TrimSpace(v.String()))
		if err != nil {
			return false, fmt.Errorf("%q is not a boolean", v.String())
		}
		return b, nil
	}
	return false, fmt.Errorf("cannot use %s as boolean", v.Type())
}

func describe(raw any) string {
	var s string
	if b, ok := rawJSON(raw); ok {
		s = "JSON " + string(bytes.TrimSpace(b))
	} else {
		s = fmt.Sprintf("%T(%v)", raw, raw)
	}
	return tgui.TruncRunes(s, 120)
}
