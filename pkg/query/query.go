package query

import (
	"encoding"
	"fmt"
	"math"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	querystring "github.com/google/go-querystring/query"
)

// Params is a structured parameter set. Values are string, []string or a
// nested Params once canonicalised; Encode also accepts scalar values and
// slices of scalars and formats them as strings.
type Params map[string]any

// EncodeError reports a parameter that cannot be represented in the query
// string convention.
type EncodeError struct {
	// Param is the bracketed name of the offending parameter, e.g. "filter[state]".
	Param  string
	Reason string
}

// Error implements the error interface.
func (e *EncodeError) Error() string {
	return fmt.Sprintf("query: cannot encode parameter %q: %s", e.Param, e.Reason)
}

// DecodeError reports a malformed query string.
type DecodeError struct {
	Key    string
	Reason string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("query: cannot decode key %q: %s", e.Key, e.Reason)
}

type pair struct {
	key   string
	value string
}

// Encode serializes p into a query string without the leading '?'.
func Encode(p Params) (string, error) {
	var pairs []pair
	if err := flattenMap(reflect.ValueOf(map[string]any(p)), "", map[uintptr]bool{}, &pairs); err != nil {
		return "", err
	}

	var b strings.Builder
	for i, kv := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escapeKey(kv.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.value))
	}
	return b.String(), nil
}

// Marshal encodes any supported parameter set: Params, map[string]any,
// url.Values, or a struct (or pointer to struct) with `url` tags.
// A nil value encodes to the empty string.
func Marshal(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case Params:
		return Encode(v)
	case map[string]any:
		return Encode(Params(v))
	case url.Values:
		p, err := FromValues(v)
		if err != nil {
			return "", &EncodeError{Param: err.(*DecodeError).Key, Reason: err.(*DecodeError).Reason}
		}
		return Encode(p)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return "", &EncodeError{Reason: fmt.Sprintf("unsupported parameter set type %T", v)}
	}

	values, err := querystring.Values(v)
	if err != nil {
		return "", &EncodeError{Param: rv.Type().Name(), Reason: err.Error()}
	}
	p, err := FromValues(values)
	if err != nil {
		de := err.(*DecodeError)
		return "", &EncodeError{Param: de.Key, Reason: de.Reason}
	}
	markSequences(rv, p)
	return Encode(p)
}

var (
	querystringEncoderType = reflect.TypeOf((*querystring.Encoder)(nil)).Elem()
	timeType               = reflect.TypeOf(time.Time{})
)

// markSequences restores the sequence form of slice and array fields in p.
// go-querystring writes a one-element slice exactly like a scalar, so the
// field type decides, not the number of values. The walk mirrors
// go-querystring's field naming.
func markSequences(v reflect.Value, p Params) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() && !sf.Anonymous {
			continue
		}
		tag := sf.Tag.Get("url")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := v.Field(i)
		if name == "" {
			if sf.Anonymous {
				if ev := reflect.Indirect(fv); ev.IsValid() && ev.Kind() == reflect.Struct {
					markSequences(ev, p)
					continue
				}
			}
			name = sf.Name
		}
		if fv.Type().Implements(querystringEncoderType) {
			continue
		}
		for fv.Kind() == reflect.Pointer && !fv.IsNil() {
			fv = fv.Elem()
		}

		switch {
		case fv.Kind() == reflect.Slice || fv.Kind() == reflect.Array:
			if joinedSequence(opts, sf) {
				continue
			}
			if s, ok := p[name].(string); ok {
				p[name] = []string{s}
			}
		case fv.Kind() == reflect.Struct && fv.Type() != timeType:
			if nested, ok := p[name].(Params); ok {
				markSequences(fv, nested)
			}
		}
	}
}

// joinedSequence reports whether go-querystring writes the field as one
// delimited value, or already under its own key form.
func joinedSequence(opts string, sf reflect.StructField) bool {
	for _, o := range strings.Split(opts, ",") {
		switch o {
		case "comma", "space", "semicolon", "brackets", "numbered":
			return true
		}
	}
	return sf.Tag.Get("del") != ""
}

// Decode parses a query string produced by Encode back into Params.
// A plain key repeated several times is decoded as a sequence.
func Decode(s string) (Params, error) {
	p := Params{}
	s = strings.TrimPrefix(s, "?")
	for _, part := range strings.Split(s, "&") {
		if part == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, &DecodeError{Key: rawKey, Reason: err.Error()}
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, &DecodeError{Key: key, Reason: err.Error()}
		}
		if err := p.insert(key, value); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// FromValues lifts url.Values with bracketed keys into Params.
func FromValues(values url.Values) (Params, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := Params{}
	for _, k := range keys {
		for _, v := range values[k] {
			if err := p.insert(k, v); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func (p Params) insert(key, value string) error {
	segs, err := splitKey(key)
	if err != nil {
		return err
	}

	cur := p
	for i, seg := range segs {
		last := i == len(segs)-1
		if seg == "" {
			return &DecodeError{Key: key, Reason: "empty bracket must be the last segment"}
		}

		if last {
			switch existing := cur[seg].(type) {
			case nil:
				cur[seg] = value
			case string:
				cur[seg] = []string{existing, value}
			case []string:
				cur[seg] = append(existing, value)
			default:
				return &DecodeError{Key: key, Reason: "scalar conflicts with nested object"}
			}
			return nil
		}

		if segs[i+1] == "" && i+1 == len(segs)-1 {
			switch existing := cur[seg].(type) {
			case nil:
				cur[seg] = []string{value}
			case []string:
				cur[seg] = append(existing, value)
			case string:
				cur[seg] = []string{existing, value}
			default:
				return &DecodeError{Key: key, Reason: "sequence conflicts with nested object"}
			}
			return nil
		}

		switch existing := cur[seg].(type) {
		case nil:
			next := Params{}
			cur[seg] = next
			cur = next
		case Params:
			cur = existing
		default:
			return &DecodeError{Key: key, Reason: "nested object conflicts with scalar"}
		}
	}
	return nil
}

// splitKey splits "a[b][]" into ["a", "b", ""].
func splitKey(key string) ([]string, error) {
	base, rest, found := strings.Cut(key, "[")
	if base == "" {
		return nil, &DecodeError{Key: key, Reason: "missing parameter name"}
	}
	segs := []string{base}
	if !found {
		if strings.Contains(key, "]") {
			return nil, &DecodeError{Key: key, Reason: "unbalanced bracket"}
		}
		return segs, nil
	}

	rest = "[" + rest
	for rest != "" {
		if rest[0] != '[' {
			return nil, &DecodeError{Key: key, Reason: "unexpected text after bracket"}
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, &DecodeError{Key: key, Reason: "unbalanced bracket"}
		}
		seg := rest[1:end]
		if strings.ContainsAny(seg, "[") {
			return nil, &DecodeError{Key: key, Reason: "unbalanced bracket"}
		}
		segs = append(segs, seg)
		rest = rest[end+1:]
	}
	return segs, nil
}

func flattenMap(m reflect.Value, prefix string, seen map[uintptr]bool, out *[]pair) error {
	if m.IsNil() || m.Len() == 0 {
		return nil
	}
	ptr := m.Pointer()
	if seen[ptr] {
		return &EncodeError{Param: prefix, Reason: "cyclic parameter set"}
	}
	seen[ptr] = true
	defer delete(seen, ptr)

	keys := make([]string, 0, m.Len())
	for _, k := range m.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "[" + k + "]"
		}
		if k == "" {
			return &EncodeError{Param: name, Reason: "empty key"}
		}
		if strings.ContainsAny(k, "[]") {
			return &EncodeError{Param: name, Reason: "key contains a bracket"}
		}
		if err := flattenValue(name, m.MapIndex(reflect.ValueOf(k).Convert(m.Type().Key())), seen, out); err != nil {
			return err
		}
	}
	return nil
}

func flattenValue(name string, v reflect.Value, seen map[uintptr]bool, out *[]pair) error {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		if isScalar(v) {
			break
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}

	if s, ok, err := scalarString(name, v); err != nil {
		return err
	} else if ok {
		*out = append(*out, pair{key: name, value: s})
		return nil
	}

	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return &EncodeError{Param: name, Reason: "map keys must be strings"}
		}
		return flattenMap(v, name, seen, out)
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			elem := v.Index(i)
			for elem.Kind() == reflect.Interface && !elem.IsNil() {
				elem = elem.Elem()
			}
			s, ok, err := scalarString(name+"[]", elem)
			if err != nil {
				return err
			}
			if !ok {
				return &EncodeError{Param: name, Reason: "sequence elements must be scalar values"}
			}
			*out = append(*out, pair{key: name + "[]", value: s})
		}
		return nil
	}
	return &EncodeError{Param: name, Reason: fmt.Sprintf("unsupported value type %s", v.Type())}
}

var textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
var stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()

func isScalar(v reflect.Value) bool {
	return v.Type().Implements(textMarshalerType) || v.Type().Implements(stringerType)
}

// scalarString formats v when it is a scalar. ok is false for composite values.
func scalarString(name string, v reflect.Value) (string, bool, error) {
	if !v.IsValid() {
		return "", false, &EncodeError{Param: name, Reason: "nil sequence element"}
	}
	if v.CanInterface() {
		switch x := v.Interface().(type) {
		case string:
			return x, true, nil
		case encoding.TextMarshaler:
			b, err := x.MarshalText()
			if err != nil {
				return "", false, &EncodeError{Param: name, Reason: err.Error()}
			}
			return string(b), true, nil
		case fmt.Stringer:
			return x.String(), true, nil
		}
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), true, nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), true, nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", false, &EncodeError{Param: name, Reason: "non-finite number"}
		}
		return strconv.FormatFloat(f, 'f', -1, v.Type().Bits()), true, nil
	case reflect.Map, reflect.Slice, reflect.Array:
		return "", false, nil
	}
	return "", false, &EncodeError{Param: name, Reason: fmt.Sprintf("unsupported value type %s", v.Type())}
}

func escapeKey(key string) string {
	k := url.QueryEscape(key)
	k = strings.ReplaceAll(k, "%5B", "[")
	return strings.ReplaceAll(k, "%5D", "]")
}
