package llm

import (
	"encoding/json"
	"errors"
	"testing"
)

func gradeSchema() *Schema {
	return &Schema{
		Name:        "test-grade-results",
		Description: "Per-item grading results",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"results": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"score":    map[string]any{"type": "integer", "enum": []any{0, 1}},
							"feedback": map[string]any{"type": "string"},
						},
						"required": []any{"score"},
					},
				},
				"verdict": map[string]any{"type": "string", "enum": []any{"pass", "fail"}},
			},
			"required": []any{"results"},
		},
	}
}

func TestValidateJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid", `{"results":[{"score":1,"feedback":"good"}],"verdict":"pass"}`, false},
		{"optional fields omitted", `{"results":[{"score":0}]}`, false},
		{"empty results", `{"results":[]}`, false},
		{"missing required", `{"verdict":"pass"}`, true},
		{"wrong type", `{"results":[{"score":"one"}]}`, true},
		{"score out of enum", `{"results":[{"score":2}]}`, true},
		{"bad verdict", `{"results":[],"verdict":"maybe"}`, true},
		{"malformed", `{not json}`, true},
		{"empty", ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJSON(gradeSchema(), json.RawMessage(tt.raw))
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("expected no error, got: %v", err)
				}
				return
			}
			var inv *ErrInvalidResponse
			if !errors.As(err, &inv) {
				t.Fatalf("expected ErrInvalidResponse, got: %T (%v)", err, err)
			}
		})
	}
}

func TestValidateJSON_NilSchema(t *testing.T) {
	if err := ValidateJSON(nil, json.RawMessage(`{"anything":"goes"}`)); err != nil {
		t.Fatalf("expected no error with nil schema, got: %v", err)
	}
}

func TestValidateJSON_SchemaCachedByName(t *testing.T) {
	s := gradeSchema()
	s.Name = "test-cache"
	if err := ValidateJSON(s, json.RawMessage(`{"results":[]}`)); err != nil {
		t.Fatalf("first validation: %v", err)
	}
	if _, ok := schemaCache.Load("test-cache"); !ok {
		t.Fatal("expected compiled schema to be cached")
	}
	if err := ValidateJSON(s, json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected cached schema to still reject missing results")
	}
}
