package query

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
)

// Match reports whether rec satisfies every clause of f. Evaluation stops at
// the first failing clause.
func Match(rec map[string]any, f Filter) bool {
	d := doc{rec: rec}
	for _, c := range f {
		if !d.match(c) {
			return false
		}
	}
	return true
}

// Apply returns the records matching f, preserving order. A nil or empty
// filter returns records unchanged.
func Apply(records []map[string]any, f Filter) []map[string]any {
	if f.Empty() {
		return records
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		if Match(rec, f) {
			out = append(out, rec)
		}
	}
	return out
}

// doc resolves field paths on one record. Dotted paths are looked up with
// gjson on the encoded record, which is built at most once. Each segment is a
// literal key, or an index when the value at that point is an array.
type doc struct {
	rec map[string]any
	raw []byte
}

func (d *doc) lookup(field string) (any, bool) {
	if v, ok := d.rec[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}
	if d.raw == nil {
		raw, err := sonic.Marshal(d.rec)
		if err != nil {
			return nil, false
		}
		d.raw = raw
	}
	path, ok := literalPath(field)
	if !ok {
		return nil, false
	}
	res := gjson.GetBytes(d.raw, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// literalPath escapes every segment of a dotted field so gjson reads it as
// plain keys. Wildcards, modifiers and queries never apply to filter fields.
func literalPath(field string) (string, bool) {
	segs := strings.Split(field, ".")
	for i, seg := range segs {
		if seg == "" {
			return "", false
		}
		segs[i] = gjson.Escape(seg)
	}
	return strings.Join(segs, "."), true
}

func (d *doc) match(c Clause) bool {
	v, ok := d.lookup(c.Field)
	switch c.Op {
	case OpEq:
		return ok && equal(v, c.Value, c.Loose)
	case OpNe:
		return !ok || !equal(v, c.Value, c.Loose)
	case OpGt, OpGte, OpLt, OpLte:
		if !ok {
			return false
		}
		cmp, comparable := compare(v, c.Value, c.Loose)
		if !comparable {
			return false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpIn:
		return ok && contains(c.Values, v, c.Loose)
	case OpNin:
		return !ok || !contains(c.Values, v, c.Loose)
	default:
		return false
	}
}

func contains(list []any, v any, loose bool) bool {
	for _, candidate := range list {
		if equal(v, candidate, loose) {
			return true
		}
	}
	return false
}

// equal compares a record value with an operand. Numbers compare by value
// regardless of their Go type. With loose set, a string operand is coerced to
// the record value's kind first.
func equal(recVal, operand any, loose bool) bool {
	if loose {
		operand = coerce(operand, recVal)
	}
	if a, ok := toFloat(recVal); ok {
		b, ok := toFloat(operand)
		return ok && a == b
	}
	switch a := recVal.(type) {
	case nil:
		return operand == nil
	case string:
		b, ok := operand.(string)
		return ok && a == b
	case bool:
		b, ok := operand.(bool)
		return ok && a == b
	}
	return reflect.DeepEqual(recVal, operand)
}

// compare orders two numbers or two strings. Any other pairing is unordered.
func compare(recVal, operand any, loose bool) (int, bool) {
	if loose {
		operand = coerce(operand, recVal)
	}
	if a, ok := toFloat(recVal); ok {
		b, ok := toFloat(operand)
		if !ok {
			return 0, false
		}
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		default:
			return 0, true
		}
	}
	a, ok := recVal.(string)
	if !ok {
		return 0, false
	}
	b, ok := operand.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(a, b), true
}

func coerce(operand, like any) any {
	s, ok := operand.(string)
	if !ok {
		return operand
	}
	if _, isNum := toFloat(like); isNum {
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
		return operand
	}
	switch like.(type) {
	case bool:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	case nil:
		if s == "null" {
			return nil
		}
	}
	return operand
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
