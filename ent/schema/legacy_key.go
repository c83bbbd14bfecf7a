package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
)

// LegacyKey mirrors the flat phase/step/task score keys older clients
// read from session storage.
type LegacyKey struct {
	ent.Schema
}

func (LegacyKey) Fields() []ent.Field {
	return []ent.Field{
		field.String("key").
			NotEmpty().
			Unique(),
		field.String("value"),
		field.Int64("updated_at"),
	}
}
