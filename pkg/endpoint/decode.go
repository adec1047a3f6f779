package endpoint

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return "-"
		}
		if name == "" {
			return f.Name
		}
		return name
	})
}

// DecodeOption configures DecodeJSON.
type DecodeOption func(*decodeOptions)

type decodeOptions struct {
	disallowUnknown bool
	skipValidation  bool
}

// DisallowUnknownFields makes object keys without a matching struct field a
// decode error located at that key.
func DisallowUnknownFields() DecodeOption {
	return func(o *decodeOptions) { o.disallowUnknown = true }
}

// SkipValidation disables `validate` struct tag checks after decoding.
func SkipValidation() DecodeOption {
	return func(o *decodeOptions) { o.skipValidation = true }
}

// DecodeJSON decodes data into v, which must be a non-nil pointer.
//
// Unlike json.Unmarshal, every failure is a KindDecode *Error whose Path
// points at the offending value (items[2].total), including sequence
// indices. Malformed JSON is reported at the innermost value that was open
// when parsing stopped. After decoding, struct targets and top-level
// sequences or maps of structs are checked against their `validate` tags,
// so a `validate:"required"` field absent from the body is reported at its
// own path. Nested slices of structs need `validate:"dive"` for their
// elements to be checked.
func DecodeJSON(data []byte, v any, opts ...DecodeOption) error {
	var o decodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return NewDecodeError(nil, fmt.Sprintf("decode target must be a non-nil pointer, got %T", v))
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		de := NewDecodeError(syntaxPath(data), "malformed JSON")
		de.Err = err
		return de
	}
	if _, err := dec.Token(); err != io.EOF {
		return NewDecodeError(nil, "trailing data after JSON value")
	}

	ctx := &pathContext{opts: o}
	if err := ctx.decode(tree, rv.Elem()); err != nil {
		return err
	}

	if o.skipValidation {
		return nil
	}
	target := reflect.Indirect(rv)
	switch {
	case target.Kind() == reflect.Struct:
		return validationError(validate.Struct(v), target.Type().Name()+".")
	case diveable(target.Type()):
		return validationError(validate.Var(target.Interface(), "dive"), "")
	}
	return nil
}

// diveable reports whether t is a slice, array or map of structs.
func diveable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		elem := t.Elem()
		if elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		return elem.Kind() == reflect.Struct
	}
	return false
}

// validationError converts the first validator failure into a decode error.
// prefix is the root type name the validator puts in front of namespaces.
func validationError(err error, prefix string) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return nil
	}

	fe := verrs[0]
	ns := fe.Namespace()
	if prefix != "" {
		ns = strings.TrimPrefix(ns, prefix)
	}
	path, perr := ParsePath(ns)
	if perr != nil {
		path = Path{FieldSegment(ns)}
	}
	if fe.Tag() == "required" {
		return NewDecodeError(path, "missing required field")
	}
	return NewDecodeError(path, fmt.Sprintf("failed %q validation", fe.Tag()))
}

// syntaxPath replays the tokens of a malformed document and returns the
// path of the innermost value still open when tokenizing failed.
func syntaxPath(data []byte) Path {
	type frame struct {
		array   bool
		n       int  // elements started, arrays only
		done    bool // last element finished, arrays only
		key     string
		haveKey bool
	}
	var stack []*frame

	// startValue records that a value begins inside the current container.
	startValue := func() {
		if len(stack) > 0 && stack[len(stack)-1].array {
			stack[len(stack)-1].n++
			stack[len(stack)-1].done = false
		}
	}
	// endValue records that a value inside the current container finished.
	endValue := func() {
		if len(stack) == 0 {
			return
		}
		if top := stack[len(stack)-1]; top.array {
			top.done = true
		} else {
			top.haveKey = false
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{', '[':
				startValue()
				stack = append(stack, &frame{array: t == '['})
			default:
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
				endValue()
			}
		default:
			if len(stack) > 0 && !stack[len(stack)-1].array && !stack[len(stack)-1].haveKey {
				if key, ok := t.(string); ok {
					stack[len(stack)-1].key = key
					stack[len(stack)-1].haveKey = true
					continue
				}
			}
			startValue()
			endValue()
		}
	}

	var path Path
	for _, f := range stack {
		switch {
		case f.array && f.done:
			path = append(path, IndexSegment(f.n))
		case f.array && f.n > 0:
			path = append(path, IndexSegment(f.n-1))
		case !f.array && f.haveKey:
			path = append(path, FieldSegment(f.key))
		}
	}
	return path
}

// pathContext tracks the location of the value being decoded.
type pathContext struct {
	path Path
	opts decodeOptions
}

func (c *pathContext) push(s Segment) { c.path = append(c.path, s) }

func (c *pathContext) pop() { c.path = c.path[:len(c.path)-1] }

func (c *pathContext) fail(format string, args ...any) *Error {
	return NewDecodeError(slices.Clone(c.path), fmt.Sprintf(format, args...))
}

func (c *pathContext) mismatch(want string, src any) *Error {
	return c.fail("invalid type: expected %s, found %s", want, describe(src))
}

var (
	jsonUnmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

func (c *pathContext) decode(src any, dst reflect.Value) error {
	if dst.Kind() == reflect.Pointer {
		if src == nil {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return c.decode(src, dst.Elem())
	}

	if dst.CanAddr() {
		pt := dst.Addr().Type()
		if pt.Implements(jsonUnmarshalerType) {
			raw, err := json.Marshal(src)
			if err != nil {
				return c.fail("%v", err)
			}
			if err := dst.Addr().Interface().(json.Unmarshaler).UnmarshalJSON(raw); err != nil {
				if inner, ok := AsError(err); ok && inner.Kind == KindDecode {
					return NewDecodeError(append(slices.Clone(c.path), inner.Path...), inner.Message)
				}
				return c.fail("%v", err)
			}
			return nil
		}
		if s, ok := src.(string); ok && pt.Implements(textUnmarshalerType) {
			if err := dst.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
				return c.fail("%v", err)
			}
			return nil
		}
	}

	if src == nil {
		if dst.Kind() == reflect.Interface || dst.Kind() == reflect.Map || dst.Kind() == reflect.Slice {
			dst.Set(reflect.Zero(dst.Type()))
		}
		return nil
	}

	switch dst.Kind() {
	case reflect.Interface:
		if dst.NumMethod() != 0 {
			return c.fail("cannot decode into non-empty interface %s", dst.Type())
		}
		dst.Set(reflect.ValueOf(plain(src)))
		return nil

	case reflect.Struct:
		obj, ok := src.(map[string]any)
		if !ok {
			return c.mismatch("object", src)
		}
		return c.decodeStruct(obj, dst)

	case reflect.Map:
		obj, ok := src.(map[string]any)
		if !ok {
			return c.mismatch("object", src)
		}
		return c.decodeMap(obj, dst)

	case reflect.Slice:
		if s, ok := src.(string); ok && dst.Type().Elem().Kind() == reflect.Uint8 {
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return c.fail("invalid base64 data: %v", err)
			}
			dst.SetBytes(b)
			return nil
		}
		arr, ok := src.([]any)
		if !ok {
			return c.mismatch("array", src)
		}
		out := reflect.MakeSlice(dst.Type(), len(arr), len(arr))
		for i, elem := range arr {
			c.push(IndexSegment(i))
			if err := c.decode(elem, out.Index(i)); err != nil {
				return err
			}
			c.pop()
		}
		dst.Set(out)
		return nil

	case reflect.Array:
		arr, ok := src.([]any)
		if !ok {
			return c.mismatch("array", src)
		}
		for i := 0; i < dst.Len(); i++ {
			if i >= len(arr) {
				dst.Index(i).Set(reflect.Zero(dst.Type().Elem()))
				continue
			}
			c.push(IndexSegment(i))
			if err := c.decode(arr[i], dst.Index(i)); err != nil {
				return err
			}
			c.pop()
		}
		return nil

	case reflect.String:
		s, ok := src.(string)
		if !ok {
			return c.mismatch("string", src)
		}
		dst.SetString(s)
		return nil

	case reflect.Bool:
		b, ok := src.(bool)
		if !ok {
			return c.mismatch("boolean", src)
		}
		dst.SetBool(b)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := src.(json.Number)
		if !ok {
			return c.mismatch("integer", src)
		}
		i, err := strconv.ParseInt(string(n), 10, 64)
		if err != nil {
			return c.fail("invalid type: expected integer, found number %s", n)
		}
		if dst.OverflowInt(i) {
			return c.fail("number %s overflows %s", n, dst.Type())
		}
		dst.SetInt(i)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, ok := src.(json.Number)
		if !ok {
			return c.mismatch("unsigned integer", src)
		}
		u, err := strconv.ParseUint(string(n), 10, 64)
		if err != nil {
			return c.fail("invalid type: expected unsigned integer, found number %s", n)
		}
		if dst.OverflowUint(u) {
			return c.fail("number %s overflows %s", n, dst.Type())
		}
		dst.SetUint(u)
		return nil

	case reflect.Float32, reflect.Float64:
		n, ok := src.(json.Number)
		if !ok {
			return c.mismatch("number", src)
		}
		f, err := n.Float64()
		if err != nil || dst.OverflowFloat(f) {
			return c.fail("number %s overflows %s", n, dst.Type())
		}
		dst.SetFloat(f)
		return nil
	}

	return c.fail("unsupported target type %s", dst.Type())
}

func (c *pathContext) decodeStruct(obj map[string]any, dst reflect.Value) error {
	fields := cachedFields(dst.Type())
	for _, key := range sortedKeys(obj) {
		f, ok := fields.lookup(key)
		if !ok {
			if c.opts.disallowUnknown {
				c.push(FieldSegment(key))
				return c.fail("unknown field")
			}
			continue
		}

		fv, err := fieldByIndex(dst, f.index)
		if err != nil {
			c.push(FieldSegment(key))
			return c.fail("%v", err)
		}
		c.push(FieldSegment(key))
		if err := c.decode(obj[key], fv); err != nil {
			return err
		}
		c.pop()
	}
	return nil
}

func (c *pathContext) decodeMap(obj map[string]any, dst reflect.Value) error {
	typ := dst.Type()
	if dst.IsNil() {
		dst.Set(reflect.MakeMapWithSize(typ, len(obj)))
	}

	for _, key := range sortedKeys(obj) {
		c.push(FieldSegment(key))

		kv, err := mapKey(typ.Key(), key)
		if err != nil {
			return c.fail("invalid map key: %v", err)
		}
		elem := reflect.New(typ.Elem()).Elem()
		if err := c.decode(obj[key], elem); err != nil {
			return err
		}
		dst.SetMapIndex(kv, elem)

		c.pop()
	}
	return nil
}

func mapKey(typ reflect.Type, key string) (reflect.Value, error) {
	if reflect.PointerTo(typ).Implements(textUnmarshalerType) {
		kv := reflect.New(typ)
		if err := kv.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(key)); err != nil {
			return reflect.Value{}, err
		}
		return kv.Elem(), nil
	}

	switch typ.Kind() {
	case reflect.String:
		return reflect.ValueOf(key).Convert(typ), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(key, 10, typ.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(i).Convert(typ), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(key, 10, typ.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(u).Convert(typ), nil
	}
	return reflect.Value{}, fmt.Errorf("unsupported key type %s", typ)
}

// fieldByIndex walks index, allocating nil embedded struct pointers.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, error) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				if !v.CanSet() {
					return reflect.Value{}, fmt.Errorf("cannot set embedded pointer to unexported struct %s", v.Type().Elem())
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, nil
}

type fieldInfo struct {
	name  string
	index []int
}

type fieldSet []fieldInfo

func (fs fieldSet) lookup(key string) (fieldInfo, bool) {
	for _, f := range fs {
		if f.name == key {
			return f, true
		}
	}
	for _, f := range fs {
		if strings.EqualFold(f.name, key) {
			return f, true
		}
	}
	return fieldInfo{}, false
}

var fieldCache sync.Map // map[reflect.Type]fieldSet

func cachedFields(t reflect.Type) fieldSet {
	if fs, ok := fieldCache.Load(t); ok {
		return fs.(fieldSet)
	}
	fs, _ := fieldCache.LoadOrStore(t, typeFields(t, nil, map[reflect.Type]bool{}))
	return fs.(fieldSet)
}

// typeFields lists decodable fields. Fields declared on the outer struct
// shadow promoted fields of the same name.
func typeFields(t reflect.Type, prefix []int, visiting map[reflect.Type]bool) fieldSet {
	if visiting[t] {
		return nil
	}
	visiting[t] = true
	defer delete(visiting, t)

	var direct, promoted fieldSet
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		index := append(slices.Clone(prefix), i)

		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				promoted = append(promoted, typeFields(ft, index, visiting)...)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		direct = append(direct, fieldInfo{name: name, index: index})
	}

	for _, f := range promoted {
		if _, shadowed := direct.lookupExact(f.name); !shadowed {
			direct = append(direct, f)
		}
	}
	return direct
}

func (fs fieldSet) lookupExact(name string) (fieldInfo, bool) {
	for _, f := range fs {
		if f.name == name {
			return f, true
		}
	}
	return fieldInfo{}, false
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// plain converts json.Number leaves into float64, matching json.Unmarshal
// into an empty interface.
func plain(src any) any {
	switch v := src.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return string(v)
		}
		return f
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = plain(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = plain(e)
		}
		return out
	}
	return src
}

func describe(src any) string {
	switch v := src.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number:
		return "number " + string(v)
	case string:
		return "string " + strconv.Quote(v)
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", src)
}
