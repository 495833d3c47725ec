// Package sanitize normalizes arbitrary tool-response payloads before storage.
//
// Tool responses arrive as arbitrarily nested structures, frequently with
// fields that are themselves JSON serialized to a string. Storing those
// verbatim and re-serializing on every hop multiplies escape levels until the
// payload is unreadable. Sanitize parses such strings back into structured
// data exactly once; everything else passes through untouched.
package sanitize

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Kind enumerates the variants of a sanitized Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a tagged union over the JSON data model. The sanitization pass
// transforms values recursively and explicitly instead of relying on
// reflection over interface{} shapes.
type Value struct {
	Str    string
	Arr    []Value
	Obj    map[string]Value
	Num    float64
	Kind   Kind
	Truthy bool
}

// FromAny converts a decoded JSON value (map[string]any / []any / primitives)
// into a tagged Value. Unknown Go types degrade to their string form via
// a JSON round-trip; nil becomes Null.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{Kind: KindNull}
	case bool:
		return Value{Kind: KindBool, Truthy: x}
	case float64:
		return Value{Kind: KindNumber, Num: x}
	case int:
		return Value{Kind: KindNumber, Num: float64(x)}
	case int64:
		return Value{Kind: KindNumber, Num: float64(x)}
	case string:
		return Value{Kind: KindString, Str: x}
	case []any:
		arr := make([]Value, len(x))
		for i, item := range x {
			arr[i] = FromAny(item)
		}
		return Value{Kind: KindArray, Arr: arr}
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, item := range x {
			obj[k] = FromAny(item)
		}
		return Value{Kind: KindObject, Obj: obj}
	default:
		// Structs and other concrete types: normalize through JSON.
		data, err := json.Marshal(x)
		if err != nil {
			return Value{Kind: KindNull}
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return Value{Kind: KindNull}
		}
		return FromAny(decoded)
	}
}

// ToAny converts a Value back to the plain JSON data model.
func (v Value) ToAny() any {
	switch v.Kind {
	case KindBool:
		return v.Truthy
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindArray:
		arr := make([]any, len(v.Arr))
		for i, item := range v.Arr {
			arr[i] = item.ToAny()
		}
		return arr
	case KindObject:
		obj := make(map[string]any, len(v.Obj))
		for k, item := range v.Obj {
			obj[k] = item.ToAny()
		}
		return obj
	default:
		return nil
	}
}

// Sanitize converts an arbitrary response object into canonical structured
// form. Strings that are valid JSON documents are parsed into structured data
// so they are never re-escaped on the next serialization; everything else is
// returned unchanged. Pure function: ambiguous input comes back as-is.
func Sanitize(v any) any {
	return sanitizeValue(FromAny(v)).ToAny()
}

func sanitizeValue(v Value) Value {
	switch v.Kind {
	case KindString:
		if parsed, ok := parseEmbeddedJSON(v.Str); ok {
			// Recurse: the embedded document may itself contain
			// JSON-encoded string fields.
			return sanitizeValue(parsed)
		}
		return v
	case KindArray:
		arr := make([]Value, len(v.Arr))
		for i, item := range v.Arr {
			arr[i] = sanitizeValue(item)
		}
		return Value{Kind: KindArray, Arr: arr}
	case KindObject:
		obj := make(map[string]Value, len(v.Obj))
		for k, item := range v.Obj {
			obj[k] = sanitizeValue(item)
		}
		return Value{Kind: KindObject, Obj: obj}
	default:
		return v
	}
}

// parseEmbeddedJSON reports whether s is a JSON object or array and returns
// its parsed form. The outer-bracket heuristic rejects the common case
// cheaply; gjson validates before the full decode so malformed
// almost-JSON text passes through as a plain string.
func parseEmbeddedJSON(s string) (Value, bool) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 {
		return Value{}, false
	}
	first := trimmed[0]
	last := trimmed[len(trimmed)-1]
	if !(first == '{' && last == '}') && !(first == '[' && last == ']') {
		return Value{}, false
	}
	if !gjson.Valid(trimmed) {
		return Value{}, false
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return Value{}, false
	}
	return FromAny(decoded), true
}

// ExtractContent recursively unwraps known envelope shapes before
// sanitization. Tool frameworks commonly wrap the useful result in an object
// exposing a single "content" field; the envelope carries no information
// worth embedding or storing.
func ExtractContent(v any) any {
	for {
		obj, ok := v.(map[string]any)
		if !ok {
			break
		}
		inner, ok := obj["content"]
		if !ok {
			break
		}
		v = inner
	}
	return v
}

// Normalize is the full ingestion-side pass: unwrap envelopes, then sanitize.
func Normalize(v any) any {
	return Sanitize(ExtractContent(v))
}
