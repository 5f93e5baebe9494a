// Package query implements collection filtering: a filter is an AND of
// field clauses, each clause applying one comparison or set operator.
//
// Filters come from two places. JSON bodies use the object form
//
//	{"status": "active", "rent": {"gte": 1000, "lt": 2000}, "city": ["Austin", "Dallas"]}
//
// and query strings use the bracket form
//
//	?status=active&rent[gte]=1000&rent[lt]=2000&city[in]=Austin,Dallas
//
// Unknown operators produce a clause that matches nothing.
package query

import (
	"net/url"
	"sort"
	"strings"
)

// Op is a filter operator.
type Op uint8

const (
	OpInvalid Op = iota
	OpEq
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpNin
)

var opNames = map[Op]string{
	OpInvalid: "invalid",
	OpEq:      "eq",
	OpNe:      "ne",
	OpGt:      "gt",
	OpGte:     "gte",
	OpLt:      "lt",
	OpLte:     "lte",
	OpIn:      "in",
	OpNin:     "nin",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "invalid"
}

// ParseOp maps an operator name ("gte" or "$gte") to its Op. Unknown names
// return OpInvalid.
func ParseOp(name string) Op {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "$")
	for op, n := range opNames {
		if op != OpInvalid && n == name {
			return op
		}
	}
	return OpInvalid
}

// Clause is one field condition. Set operators use Values, every other
// operator uses Value.
type Clause struct {
	Field  string
	Op     Op
	Value  any
	Values []any
	// Loose lets string operands match numbers, booleans and null in the
	// record. Set for clauses built from query strings.
	Loose bool
	// Raw keeps the operator name of an invalid clause for diagnostics.
	Raw string
}

// Filter is a conjunction of clauses.
type Filter []Clause

// Empty reports whether the filter has no clauses.
func (f Filter) Empty() bool { return len(f) == 0 }

// Valid reports whether every clause has a known operator.
func (f Filter) Valid() bool {
	for _, c := range f {
		if c.Op == OpInvalid {
			return false
		}
	}
	return true
}

func Eq(field string, v any) Clause  { return Clause{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v any) Clause  { return Clause{Field: field, Op: OpNe, Value: v} }
func Gt(field string, v any) Clause  { return Clause{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) Clause { return Clause{Field: field, Op: OpGte, Value: v} }
func Lt(field string, v any) Clause  { return Clause{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) Clause { return Clause{Field: field, Op: OpLte, Value: v} }

func In(field string, vs ...any) Clause  { return Clause{Field: field, Op: OpIn, Values: vs} }
func Nin(field string, vs ...any) Clause { return Clause{Field: field, Op: OpNin, Values: vs} }

// Parse converts the object form of a filter. A literal becomes Eq, an array
// becomes In and an operator object yields one clause per operator. Fields
// are visited in sorted order so the result is deterministic.
func Parse(raw map[string]any) Filter {
	if len(raw) == 0 {
		return nil
	}
	fields := make([]string, 0, len(raw))
	for field := range raw {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	filter := make(Filter, 0, len(fields))
	for _, field := range fields {
		switch v := raw[field].(type) {
		case []any:
			filter = append(filter, In(field, v...))
		case map[string]any:
			filter = append(filter, parseOperators(field, v)...)
		default:
			filter = append(filter, Eq(field, v))
		}
	}
	return filter
}

func parseOperators(field string, ops map[string]any) Filter {
	if len(ops) == 0 {
		return Filter{{Field: field, Op: OpInvalid, Raw: "{}"}}
	}
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Filter, 0, len(names))
	for _, name := range names {
		op := ParseOp(name)
		v := ops[name]
		switch op {
		case OpInvalid:
			out = append(out, Clause{Field: field, Op: OpInvalid, Raw: name})
		case OpIn, OpNin:
			out = append(out, Clause{Field: field, Op: op, Values: asList(v)})
		default:
			out = append(out, Clause{Field: field, Op: op, Value: v})
		}
	}
	return out
}

func asList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

// ParseValues converts the query-string form of a filter. Keys starting with
// an underscore are reserved for paging and sorting and are skipped.
func ParseValues(values url.Values) Filter {
	keys := make([]string, 0, len(values))
	for key := range values {
		if strings.HasPrefix(key, "_") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var filter Filter
	for _, key := range keys {
		vals := values[key]
		if len(vals) == 0 {
			continue
		}
		field, opName, bracketed := splitKey(key)
		if !bracketed {
			if len(vals) == 1 {
				filter = append(filter, Clause{Field: field, Op: OpEq, Value: vals[0], Loose: true})
			} else {
				filter = append(filter, Clause{Field: field, Op: OpIn, Values: strings2any(vals), Loose: true})
			}
			continue
		}

		op := ParseOp(opName)
		switch op {
		case OpInvalid:
			filter = append(filter, Clause{Field: field, Op: OpInvalid, Raw: opName})
		case OpIn, OpNin:
			var list []any
			for _, v := range vals {
				for _, part := range strings.Split(v, ",") {
					list = append(list, strings.TrimSpace(part))
				}
			}
			filter = append(filter, Clause{Field: field, Op: op, Values: list, Loose: true})
		default:
			for _, v := range vals {
				filter = append(filter, Clause{Field: field, Op: op, Value: v, Loose: true})
			}
		}
	}
	return filter
}

// splitKey splits "field[op]" into its parts.
func splitKey(key string) (field, op string, ok bool) {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return key, "", false
	}
	return key[:open], key[open+1 : len(key)-1], true
}

func strings2any(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
