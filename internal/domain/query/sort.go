package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Order controls list ordering and paging for the list resolver.
type Order struct {
	Field  string
	Desc   bool
	Offset int
	Limit  int // zero means no limit
}

// ParseOrder reads _sort, _order, _offset and _limit from a query string.
// Malformed numbers are ignored.
func ParseOrder(values url.Values) Order {
	o := Order{
		Field: values.Get("_sort"),
		Desc:  strings.EqualFold(values.Get("_order"), "desc"),
	}
	if n, err := strconv.Atoi(values.Get("_offset")); err == nil && n > 0 {
		o.Offset = n
	}
	if n, err := strconv.Atoi(values.Get("_limit")); err == nil && n > 0 {
		o.Limit = n
	}
	return o
}

// Sort orders records by field in place using a stable sort. Records without
// the field, or with a value that does not order against the others, sort
// last in both directions.
func Sort(records []map[string]any, field string, desc bool) {
	if field == "" {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, aok := (&doc{rec: records[i]}).lookup(field)
		b, bok := (&doc{rec: records[j]}).lookup(field)
		if !aok || !bok {
			return aok && !bok
		}
		cmp, ok := compare(a, b, false)
		if !ok {
			_, aNum := toFloat(a)
			_, bNum := toFloat(b)
			return aNum && !bNum
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// Page slices records by offset and limit.
func Page(records []map[string]any, offset, limit int) []map[string]any {
	if offset >= len(records) {
		return records[:0]
	}
	if offset > 0 {
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

// Apply sorts then pages records in place.
func (o Order) Apply(records []map[string]any) []map[string]any {
	Sort(records, o.Field, o.Desc)
	return Page(records, o.Offset, o.Limit)
}
