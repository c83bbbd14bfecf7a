package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// PendingAttempt is an attempt that has been scored but not yet folded
// into a routed step result. One row per (learner, visit, task); a
// resubmission replaces the row.
type PendingAttempt struct {
	ent.Schema
}

func (PendingAttempt) Fields() []ent.Field {
	return []ent.Field{
		field.String("learner_id").
			NotEmpty(),
		field.String("visit_id").
			NotEmpty(),
		field.String("task_id").
			NotEmpty(),
		field.String("attempt_id").
			NotEmpty(),
		field.String("step_id").
			NotEmpty(),
		field.Text("payload").
			Comment("JSON-encoded learner.Attempt"),
		field.Int64("created_at").
			Comment("Unix milliseconds"),
	}
}

func (PendingAttempt) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("learner_id", "visit_id", "task_id").Unique(),
		index.Fields("learner_id"),
	}
}
