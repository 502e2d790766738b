package polls

import (
	"reflect"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		input  CreatePollInput
		fields map[string][]string
	}{
		{
			name:  "valid",
			input: CreatePollInput{Question: "Lunch?", Options: []string{"Pizza", "Tacos"}},
		},
		{
			name:  "question at boundary",
			input: CreatePollInput{Question: "Why", Options: []string{"A", "B"}},
		},
		{
			name:   "question too short",
			input:  CreatePollInput{Question: "Hi", Options: []string{"A", "B"}},
			fields: map[string][]string{FieldQuestion: {"Question must be at least 3 characters long."}},
		},
		{
			name:   "multibyte question counts characters",
			input:  CreatePollInput{Question: "éé", Options: []string{"A", "B"}},
			fields: map[string][]string{FieldQuestion: {"Question must be at least 3 characters long."}},
		},
		{
			name:   "one option",
			input:  CreatePollInput{Question: "Lunch?", Options: []string{"Pizza"}},
			fields: map[string][]string{FieldOptions: {"Must have at least 2 options."}},
		},
		{
			name:   "no options",
			input:  CreatePollInput{Question: "Lunch?"},
			fields: map[string][]string{FieldOptions: {"Must have at least 2 options."}},
		},
		{
			name:   "empty option",
			input:  CreatePollInput{Question: "Lunch?", Options: []string{"Pizza", "", ""}},
			fields: map[string][]string{FieldOptions: {"Option cannot be empty."}},
		},
		{
			name:  "every field at once",
			input: CreatePollInput{Question: "", Options: []string{"Pizza"}},
			fields: map[string][]string{
				FieldQuestion: {"Question must be at least 3 characters long."},
				FieldOptions:  {"Must have at least 2 options."},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Validate(tt.input)
			if tt.fields == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if !reflect.DeepEqual(out, tt.input) {
					t.Errorf("validated input changed: %+v", out)
				}
				return
			}

			if err == nil {
				t.Fatal("expected validation error")
			}
			if err.Kind != KindValidation {
				t.Errorf("expected validation kind, got %s", err.Kind)
			}
			if !reflect.DeepEqual(err.Fields, tt.fields) {
				t.Errorf("expected fields %v, got %v", tt.fields, err.Fields)
			}
		})
	}
}

func TestValidateDoesNotTrim(t *testing.T) {
	if _, err := Validate(CreatePollInput{Question: "  a", Options: []string{"A", "B"}}); err != nil {
		t.Fatalf("untrimmed question of length 3 should pass, got %v", err)
	}
}

func TestNormalizeOptions(t *testing.T) {
	got := NormalizeOptions([]string{" Pizza ", "", "   ", "\t", "Tacos"})
	want := []string{"Pizza", "Tacos"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if got := NormalizeOptions(nil); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}
