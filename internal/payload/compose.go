package payload

import (
	"woodland-client/internal/model"
	"woodland-client/pkg/logger"

	"go.uber.org/zap"
)

// Compose maps a fragment onto the fields the step asks for. Fragment values
// are looked up by field type and written under the server's field name, then
// the step's accumulated payload is merged underneath. It returns false, and
// logs what was missing, unless every declared field is present.
func Compose(step *model.ActionStep, frag Fragment) (model.CompletedPayload, bool) {
	if step == nil || step.PayloadDetails == nil {
		return nil, false
	}

	result := make(model.CompletedPayload, len(step.AccumulatedPayload)+len(step.PayloadDetails))
	for k, v := range step.AccumulatedPayload {
		result[k] = v
	}
	for _, detail := range step.PayloadDetails {
		v, ok := frag[FieldType(detail.Type)]
		if !ok || v == nil {
			logger.Named("payload").Debug("fragment missing step field",
				zap.String("step", step.Name),
				zap.String("fieldType", detail.Type),
				zap.String("fieldName", detail.Name),
				zap.Stringer("fragment", frag),
			)
			return nil, false
		}
		result[detail.Name] = v.Wire()
	}
	return result, true
}

// Accepts reports whether the step has a field of the given type, which is
// how a widget decides whether to render for the current step.
func Accepts(step *model.ActionStep, field FieldType) bool {
	if step == nil {
		return false
	}
	for _, d := range step.PayloadDetails {
		if FieldType(d.Type) == field {
			return true
		}
	}
	return false
}
