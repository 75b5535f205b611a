package etl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"notionsync/internal/domain"
)

// ── Transformer ────────────────────────────────────────────
// Field transforms are configured per collection by name. The set is closed:
// every name maps to a function compiled into the binary and nothing from
// configuration is ever evaluated.

// Transformer processes a single field value.
// Returns (transformed value, keep). If keep is false, the field is dropped.
type Transformer interface {
	Transform(domain.Value) (domain.Value, bool)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(domain.Value) (domain.Value, bool)

func (f TransformerFunc) Transform(v domain.Value) (domain.Value, bool) { return f(v) }

// TransformOp names one built-in transform.
type TransformOp string

const (
	OpLowercase TransformOp = "lowercase"
	OpUppercase TransformOp = "uppercase"
	OpTrim      TransformOp = "trim"
	OpJoin      TransformOp = "join"      // list → ", "-joined text
	OpFirst     TransformOp = "first"     // list → first element
	OpCount     TransformOp = "count"     // list → number of elements
	OpDateOnly  TransformOp = "date_only" // timestamp text → YYYY-MM-DD
	OpToNumber  TransformOp = "to_number"
	OpToBool    TransformOp = "to_bool"
	OpDrop      TransformOp = "drop"
)

var builtinTransforms = map[TransformOp]TransformerFunc{
	OpLowercase: mapText(strings.ToLower),
	OpUppercase: mapText(strings.ToUpper),
	OpTrim:      mapText(strings.TrimSpace),
	OpJoin:      joinList,
	OpFirst:     firstOfList,
	OpCount:     countList,
	OpDateOnly:  dateOnly,
	OpToNumber:  toNumber,
	OpToBool:    toBool,
	OpDrop:      func(v domain.Value) (domain.Value, bool) { return v, false },
}

// ParseTransformOp validates a configured transform name.
func ParseTransformOp(name string) (TransformOp, error) {
	op := TransformOp(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := builtinTransforms[op]; !ok {
		return "", fmt.Errorf("unknown transform %q", name)
	}
	return op, nil
}

// TransformOps lists the valid transform names.
func TransformOps() []string {
	names := make([]string, 0, len(builtinTransforms))
	for op := range builtinTransforms {
		names = append(names, string(op))
	}
	sort.Strings(names)
	return names
}

// BuildTransformers converts declarative field transforms into chains keyed
// by source field name, preserving configuration order.
func BuildTransformers(configs []domain.FieldTransform) (map[string][]Transformer, error) {
	chains := make(map[string][]Transformer)
	for _, tc := range configs {
		if tc.Field == "" {
			return nil, fmt.Errorf("transform %q: field is required", tc.Op)
		}
		op, err := ParseTransformOp(tc.Op)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", tc.Field, err)
		}
		chains[tc.Field] = append(chains[tc.Field], builtinTransforms[op])
	}
	return chains, nil
}

// ApplyTransformers runs each field's chain and returns a new field map.
func ApplyTransformers(fields map[string]domain.Value, chains map[string][]Transformer) map[string]domain.Value {
	if len(chains) == 0 {
		return fields
	}
	out := make(map[string]domain.Value, len(fields))
	for name, v := range fields {
		keep := true
		for _, t := range chains[name] {
			v, keep = t.Transform(v)
			if !keep {
				break
			}
		}
		if keep {
			out[name] = v
		}
	}
	return out
}

// ── Built-in Transforms ────────────────────────────────────

func mapText(fn func(string) string) TransformerFunc {
	return func(v domain.Value) (domain.Value, bool) {
		if s, ok := v.AsText(); ok {
			return domain.Text(fn(s)), true
		}
		return v, true
	}
}

func joinList(v domain.Value) (domain.Value, bool) {
	items, ok := v.AsList()
	if !ok {
		return v, true
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if !item.IsNull() {
			parts = append(parts, item.String())
		}
	}
	return domain.Text(strings.Join(parts, ", ")), true
}

func firstOfList(v domain.Value) (domain.Value, bool) {
	items, ok := v.AsList()
	if !ok {
		return v, true
	}
	if len(items) == 0 {
		return domain.Null(), true
	}
	return items[0], true
}

func countList(v domain.Value) (domain.Value, bool) {
	if v.IsNull() {
		return domain.Int(0), true
	}
	items, ok := v.AsList()
	if !ok {
		return v, true
	}
	return domain.Int(int64(len(items))), true
}

func dateOnly(v domain.Value) (domain.Value, bool) {
	s, ok := v.AsText()
	if !ok {
		return v, true
	}
	t, ok := domain.ParseTimestamp(s)
	if !ok {
		return v, true
	}
	return domain.Text(t.Format("2006-01-02")), true
}

func toNumber(v domain.Value) (domain.Value, bool) {
	switch v.Kind() {
	case domain.KindText:
		s, _ := v.AsText()
		s = strings.TrimSpace(s)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return domain.Int(i), true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return domain.Float(f), true
		}
		return domain.Null(), true
	case domain.KindBool:
		if b, _ := v.AsBool(); b {
			return domain.Int(1), true
		}
		return domain.Int(0), true
	default:
		return v, true
	}
}

func toBool(v domain.Value) (domain.Value, bool) {
	switch v.Kind() {
	case domain.KindText:
		s, _ := v.AsText()
		lower := strings.ToLower(strings.TrimSpace(s))
		return domain.Bool(lower == "true" || lower == "yes" || lower == "1"), true
	case domain.KindInt:
		i, _ := v.AsInt()
		return domain.Bool(i != 0), true
	case domain.KindFloat:
		f, _ := v.AsFloat()
		return domain.Bool(f != 0), true
	default:
		return v, true
	}
}
