package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// GradingEvent records every call to a remote grader, HTTP or LLM.
type GradingEvent struct {
	ent.Schema
}

func (GradingEvent) Mixin() []ent.Mixin {
	return []ent.Mixin{EventMixin{}}
}

func (GradingEvent) Fields() []ent.Field {
	return []ent.Field{
		field.String("backend").
			Comment("http or llm:<provider>"),
		field.String("model").
			Default("").
			Comment("Model ID for LLM graders"),
		field.String("purpose").
			Comment("grading or batch-grading"),
		field.String("task_id").
			Default("").
			Comment("Task being graded, empty for batches"),
		field.Int("input_tokens").
			Default(0),
		field.Int("output_tokens").
			Default(0),
		field.Int64("latency_ms").
			Default(0),
		field.Bool("success"),
		field.String("error_message").
			Default(""),
		field.Text("request_body").
			Default("").
			Comment("Serialized request sent to the grader"),
		field.Text("response_body").
			Default("").
			Comment("Raw grader response"),
	}
}

func (GradingEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("backend"),
		index.Fields("success"),
	}
}
