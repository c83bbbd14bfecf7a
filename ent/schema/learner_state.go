package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
)

// LearnerState is the confirmed progression pointer for one learner.
type LearnerState struct {
	ent.Schema
}

func (LearnerState) Fields() []ent.Field {
	return []ent.Field{
		field.String("learner_id").
			NotEmpty().
			Unique(),
		field.String("node_key").
			NotEmpty().
			Comment("main/p1/s2, remedial/B1/s1 or complete"),
		field.String("level").
			NotEmpty().
			Comment("CEFR level A1..C1"),
		field.Int64("visit").
			Comment("Monotonic visit counter; bumps on every node entry"),
		field.String("visit_id").
			NotEmpty(),
		field.Int64("updated_at").
			Comment("Unix milliseconds"),
	}
}
