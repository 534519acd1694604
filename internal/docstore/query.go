package docstore

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
	OpIn            Op = "in"
)

// MaxInValues bounds the value list of an "in" filter.
const MaxInValues = 10

type Where struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

type OrderBy struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

type Query struct {
	Collection string    `json:"collection"`
	Where      []Where   `json:"where,omitempty"`
	OrderBy    []OrderBy `json:"orderBy,omitempty"`
	Limit      int       `json:"limit,omitempty"`
}

func (q Query) Validate() error {
	if err := validateCollection(q.Collection); err != nil {
		return err
	}
	for _, filter := range q.Where {
		if strings.TrimSpace(filter.Field) == "" {
			return fmt.Errorf("%w: empty filter field", ErrInvalidQuery)
		}
		switch filter.Op {
		case OpEqual, OpArrayContains:
		case OpIn:
			values, ok := asSlice(normalizeValue(filter.Value))
			if !ok {
				return fmt.Errorf("%w: %q filter needs a list", ErrInvalidQuery, OpIn)
			}
			if len(values) == 0 || len(values) > MaxInValues {
				return fmt.Errorf("%w: %q filter takes 1 to %d values, got %d", ErrInvalidQuery, OpIn, MaxInValues, len(values))
			}
		default:
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, filter.Op)
		}
	}
	for _, order := range q.OrderBy {
		if strings.TrimSpace(order.Field) == "" {
			return fmt.Errorf("%w: empty order field", ErrInvalidQuery)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}

// Matches reports whether doc belongs to the query's result set, ignoring
// ordering and limit.
func (q Query) Matches(doc Document) bool {
	collection, _, err := SplitPath(doc.Path)
	if err != nil || collection != strings.Trim(q.Collection, "/") {
		return false
	}
	for _, filter := range q.Where {
		value, ok := lookupField(doc.Data, filter.Field)
		want := normalizeValue(filter.Value)
		switch filter.Op {
		case OpEqual:
			if !ok || !valuesEqual(value, want) {
				return false
			}
		case OpArrayContains:
			items, isList := asSlice(value)
			if !ok || !isList || !containsValue(items, want) {
				return false
			}
		case OpIn:
			candidates, _ := asSlice(want)
			if !ok || !containsValue(candidates, value) {
				return false
			}
		}
	}
	return true
}

// Apply filters, orders and limits docs the way the store evaluates q.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if q.Matches(doc) {
			out = append(out, doc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, order := range q.OrderBy {
			left, _ := lookupField(out[i].Data, order.Field)
			right, _ := lookupField(out[j].Data, order.Field)
			cmp := compareValues(left, right)
			if cmp == 0 {
				continue
			}
			if order.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return out[i].Path < out[j].Path
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func lookupField(data map[string]any, field string) (any, bool) {
	var current any = data
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asSlice(value any) ([]any, bool) {
	items, ok := value.([]any)
	return items, ok
}

func containsValue(items []any, want any) bool {
	for _, item := range items {
		if valuesEqual(item, want) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// compareValues orders null < bool < number < string < everything else,
// then by value within a type.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch left := a.(type) {
	case bool:
		right := b.(bool)
		switch {
		case left == right:
			return 0
		case !left:
			return -1
		default:
			return 1
		}
	case float64:
		right := b.(float64)
		switch {
		case left < right:
			return -1
		case left > right:
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(left, b.(string))
	default:
		return 0
	}
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}
