package logging

import "context"

type contextKey string

const fieldsKey contextKey = "log_fields"

// Fields are structured attributes added to every record logged with a
// context that carries them.
type Fields struct {
	InvocationID string // one per processed notification
	SceneID      string
	Mission      string
	MessageID    string // transport message id
	Component    string // e.g. "monitor.gate", "notify.sqs"
}

// WithFields enriches ctx with fields. Non-empty values override existing ones.
func WithFields(ctx context.Context, fields Fields) context.Context {
	merged := FieldsFrom(ctx)
	if fields.InvocationID != "" {
		merged.InvocationID = fields.InvocationID
	}
	if fields.SceneID != "" {
		merged.SceneID = fields.SceneID
	}
	if fields.Mission != "" {
		merged.Mission = fields.Mission
	}
	if fields.MessageID != "" {
		merged.MessageID = fields.MessageID
	}
	if fields.Component != "" {
		merged.Component = fields.Component
	}
	return context.WithValue(ctx, fieldsKey, merged)
}

// FieldsFrom returns the fields carried by ctx.
func FieldsFrom(ctx context.Context) Fields {
	if fields, ok := ctx.Value(fieldsKey).(Fields); ok {
		return fields
	}
	return Fields{}
}
