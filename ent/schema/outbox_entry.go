package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// OutboxEntry is a backend write waiting to be delivered.
type OutboxEntry struct {
	ent.Schema
}

func (OutboxEntry) Fields() []ent.Field {
	return []ent.Field{
		field.String("learner_id").
			NotEmpty(),
		field.String("kind").
			NotEmpty().
			Comment("attempt or step"),
		field.String("idempotency_key").
			NotEmpty().
			Unique().
			Comment("attempt/<attempt id> for attempts, step/<learner>/<step>/<visit> for steps"),
		field.Text("payload").
			Comment("JSON request body"),
		field.Int("attempts").
			Default(0),
		field.Int64("next_attempt_at").
			Comment("Unix milliseconds; entries are not retried before this"),
		field.String("last_error").
			Default(""),
		field.Int64("created_at"),
		field.Int64("delivered_at").
			Default(0).
			Comment("Zero until delivered"),
	}
}

func (OutboxEntry) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("delivered_at", "next_attempt_at"),
		index.Fields("learner_id"),
	}
}
