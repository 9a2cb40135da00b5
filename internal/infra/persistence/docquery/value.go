package docquery

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"docrepo/pkg/domain"

	"github.com/tidwall/gjson"
)

type kind int

// Kinds are declared in cross-kind sort order.
const (
	kindNull kind = iota
	kindBool
	kindNumber
	kindString
	kindJSON
)

type value struct {
	kind kind
	num  float64
	str  string
	b    bool
}

// fromAny converts a bind parameter. Named scalar types go by their kind;
// anything else (time.Time, structs, maps, slices) is compared in the JSON
// form documents are stored in.
func fromAny(v any) (value, error) {
	switch t := v.(type) {
	case nil:
		return value{kind: kindNull}, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return value{}, fmt.Errorf("bad number parameter %q", t)
		}
		return value{kind: kindNumber, num: f}, nil
	case json.RawMessage:
		if !gjson.ValidBytes(t) {
			return value{}, fmt.Errorf("bad json parameter %q", t)
		}
		return fromResult(gjson.ParseBytes(t)), nil
	}
	if _, custom := v.(json.Marshaler); !custom {
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Bool:
			return value{kind: kindBool, b: rv.Bool()}, nil
		case reflect.String:
			return value{kind: kindString, str: rv.String()}, nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return value{kind: kindNumber, num: float64(rv.Int())}, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return value{kind: kindNumber, num: float64(rv.Uint())}, nil
		case reflect.Float32, reflect.Float64:
			return value{kind: kindNumber, num: rv.Float()}, nil
		case reflect.Pointer, reflect.Interface:
			if rv.IsNil() {
				return value{kind: kindNull}, nil
			}
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return value{}, fmt.Errorf("unsupported parameter type %T: %w", v, err)
	}
	return fromResult(gjson.ParseBytes(data)), nil
}

func fromResult(r gjson.Result) value {
	switch r.Type {
	case gjson.String:
		return value{kind: kindString, str: r.Str}
	case gjson.Number:
		return value{kind: kindNumber, num: r.Num}
	case gjson.True:
		return value{kind: kindBool, b: true}
	case gjson.False:
		return value{kind: kindBool, b: false}
	case gjson.JSON:
		return value{kind: kindJSON, str: r.Raw}
	default:
		return value{kind: kindNull}
	}
}

func fieldValue(row domain.Row, path string) value {
	switch strings.ToLower(path) {
	case fieldID:
		return value{kind: kindNumber, num: float64(row.Identity)}
	case fieldVersion:
		return value{kind: kindNumber, num: float64(row.Version)}
	}
	return fromResult(gjson.GetBytes(row.Document, path))
}

// compare applies op. Null only equals null, values of different kinds are
// unequal, and ordering operators need two numbers or two strings.
func compare(field value, op string, operand value) bool {
	if field.kind != operand.kind || field.kind == kindJSON {
		return op == "!="
	}
	switch op {
	case "=":
		return order(field, operand) == 0
	case "!=":
		return order(field, operand) != 0
	}
	if field.kind != kindNumber && field.kind != kindString {
		return false
	}
	c := order(field, operand)
	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func order(a, b value) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case kindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case kindNumber:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		default:
			return 0
		}
	case kindString, kindJSON:
		return strings.Compare(a.str, b.str)
	default:
		return 0
	}
}
