package payload

import (
	"fmt"
	"sort"
	"strings"
)

// FieldType is the semantic tag a UI gesture and a step's field spec agree on.
type FieldType string

const (
	FieldClearing     FieldType = "clearing_number"
	FieldConfirm      FieldType = "confirm"
	FieldNumber       FieldType = "number"
	FieldBuildingType FieldType = "building_type"
	FieldPieceType    FieldType = "piece_type"
	FieldLeader       FieldType = "leader"
	FieldCard         FieldType = "card"
	FieldSuit         FieldType = "suit"
	FieldFaction      FieldType = "faction"
	FieldItem         FieldType = "item"
)

// Value is one piece of typed user input. The set of implementations is closed.
type Value interface {
	Wire() any
	value()
}

// ClearingRef points at a clearing on the board.
type ClearingRef int

// Confirmation is the answer of a confirm/cancel control.
type Confirmation bool

// Quantity is a numeric amount typed by the player.
type Quantity int

// OptionValue is one of the discrete values a step offered, or free text.
type OptionValue string

func (v ClearingRef) Wire() any  { return int(v) }
func (v Confirmation) Wire() any { return bool(v) }
func (v Quantity) Wire() any     { return int(v) }
func (v OptionValue) Wire() any  { return string(v) }

func (ClearingRef) value()  {}
func (Confirmation) value() {}
func (Quantity) value()     {}
func (OptionValue) value()  {}

// Fragment is the input produced by a single gesture, keyed by field type.
type Fragment map[FieldType]Value

func ClearingFragment(n int) Fragment {
	return Fragment{FieldClearing: ClearingRef(n)}
}

func ConfirmFragment(ok bool) Fragment {
	return Fragment{FieldConfirm: Confirmation(ok)}
}

func NumberFragment(n int) Fragment {
	return Fragment{FieldNumber: Quantity(n)}
}

func OptionFragment(field FieldType, value string) Fragment {
	return Fragment{field: OptionValue(value)}
}

// With returns a copy of f extended by other; other wins on collisions.
func (f Fragment) With(other Fragment) Fragment {
	out := make(Fragment, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (f Fragment) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		if v == nil {
			parts = append(parts, fmt.Sprintf("%s=<nil>", k))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, v.Wire()))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, " ") + "}"
}

// ValueFor builds the typed value for a raw input the bridge received.
// Well-known numeric and boolean field types are checked; every other type
// is carried as an option value.
func ValueFor(field FieldType, raw any) (Value, error) {
	switch field {
	case FieldClearing:
		n, err := asInt(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		return ClearingRef(n), nil
	case FieldNumber:
		n, err := asInt(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		return Quantity(n), nil
	case FieldConfirm:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("%s: expected boolean, got %T", field, raw)
		}
		return Confirmation(b), nil
	default:
		switch v := raw.(type) {
		case string:
			return OptionValue(v), nil
		case float64, int, int64, bool:
			return OptionValue(fmt.Sprint(v)), nil
		default:
			return nil, fmt.Errorf("%s: unsupported value %T", field, raw)
		}
	}
}

func asInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", raw)
	}
}
