package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// StepResult is a confirmed, routed step outcome.
type StepResult struct {
	ent.Schema
}

func (StepResult) Fields() []ent.Field {
	return []ent.Field{
		field.String("learner_id").
			NotEmpty(),
		field.String("step_id").
			NotEmpty(),
		field.String("visit_id").
			NotEmpty(),
		field.String("node_key").
			NotEmpty(),
		field.String("track").
			NotEmpty().
			Comment("main or remedial"),
		field.String("level").
			NotEmpty(),
		field.Int("total_score"),
		field.Int("max_score"),
		field.Int("bonus_score").
			Default(0),
		field.Int("threshold"),
		field.Bool("passed"),
		field.Text("payload").
			Comment("JSON-encoded learner.StepResult"),
		field.Int64("decided_at").
			Comment("Unix milliseconds"),
	}
}

func (StepResult) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("learner_id", "step_id", "visit_id").Unique(),
		index.Fields("learner_id", "track", "level"),
	}
}
