package store

import (
	"strings"

	"entgo.io/ent"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"

	entschema "github.com/abhisek/cefrquest/ent/schema"
)

// Table names.
const (
	tableLearnerState   = "learner_states"
	tablePendingAttempt = "pending_attempts"
	tableStepResult     = "step_results"
	tableOutbox         = "outbox_entries"
	tableLegacyKey      = "legacy_keys"
	tableGradingEvent   = "grading_events"
)

// tables derives the migration tables from the ent schema definitions so
// the column set has a single source of truth.
func tables() []*schema.Table {
	return []*schema.Table{
		tableFor(tableLearnerState, entschema.LearnerState{}),
		tableFor(tablePendingAttempt, entschema.PendingAttempt{}),
		tableFor(tableStepResult, entschema.StepResult{}),
		tableFor(tableOutbox, entschema.OutboxEntry{}),
		tableFor(tableLegacyKey, entschema.LegacyKey{}),
		tableFor(tableGradingEvent, entschema.GradingEvent{}),
	}
}

func tableFor(name string, s ent.Interface) *schema.Table {
	var (
		fields  []ent.Field
		indexes []ent.Index
	)
	for _, m := range s.Mixin() {
		fields = append(fields, m.Fields()...)
		indexes = append(indexes, m.Indexes()...)
	}
	fields = append(fields, s.Fields()...)
	indexes = append(indexes, s.Indexes()...)

	id := &schema.Column{Name: "id", Type: field.TypeInt, Increment: true}
	columns := []*schema.Column{id}
	byName := map[string]*schema.Column{"id": id}
	for _, f := range fields {
		d := f.Descriptor()
		c := &schema.Column{
			Name:     d.Name,
			Type:     d.Info.Type,
			Unique:   d.Unique,
			Nullable: d.Optional || d.Nillable,
			Size:     int64(d.Size),
		}
		columns = append(columns, c)
		byName[d.Name] = c
	}

	t := &schema.Table{
		Name:       name,
		Columns:    columns,
		PrimaryKey: []*schema.Column{id},
	}
	for _, ix := range indexes {
		d := ix.Descriptor()
		idx := &schema.Index{
			Name:   name + "_" + strings.Join(d.Fields, "_"),
			Unique: d.Unique,
		}
		for _, f := range d.Fields {
			idx.Columns = append(idx.Columns, byName[f])
		}
		t.Indexes = append(t.Indexes, idx)
	}
	return t
}
