package payloads

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jimdaga/plan-adjust/internal/models"
)

func TestValidateBuiltinSchemas(t *testing.T) {
	r, err := NewRegistry("")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	tests := []struct {
		name    string
		domain  string
		payload string
		valid   bool
	}{
		{"training volume cut", models.DomainTraining, `{"volume_multiplier": 0.8, "reason": "poor sleep"}`, true},
		{"training rest day", models.DomainTraining, `{"swap_to_rest_day": true}`, true},
		{"training multiplier too high", models.DomainTraining, `{"volume_multiplier": 3}`, false},
		{"training empty object", models.DomainTraining, `{}`, false},
		{"nutrition calories", models.DomainNutrition, `{"calories_delta": -250}`, true},
		{"nutrition wrong type", models.DomainNutrition, `{"calories_delta": "lots"}`, false},
		{"not json", models.DomainNutrition, `calories`, false},
		{"empty payload", models.DomainNutrition, ``, false},
		{"unknown domain", "sleep", `{"hours": 8}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(tt.domain, []byte(tt.payload))
			if tt.valid && err != nil {
				t.Errorf("expected valid payload, got %v", err)
			}
			if !tt.valid {
				if err == nil {
					t.Errorf("expected validation error")
				} else if !errors.Is(err, ErrInvalidPayload) {
					t.Errorf("expected ErrInvalidPayload, got %v", err)
				}
			}
		})
	}
}

func TestRegistryOverrideDir(t *testing.T) {
	dir := t.TempDir()
	schema := `{"type": "object", "required": ["calories_delta"]}`
	if err := os.WriteFile(filepath.Join(dir, "nutrition.schema.json"), []byte(schema), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if err := r.Validate(models.DomainNutrition, []byte(`{"protein_g_delta": 20}`)); err == nil {
		t.Errorf("expected override schema to require calories_delta")
	}
	if err := r.Validate(models.DomainNutrition, []byte(`{"calories_delta": 20}`)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	// Training keeps the built-in schema
	if err := r.Validate(models.DomainTraining, []byte(`{"sets_delta": -2}`)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRegistryOverrideDirInvalidSchema(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "training.schema.json"), []byte(`{not json`), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	if _, err := NewRegistry(dir); err == nil {
		t.Errorf("expected compile error for malformed schema")
	}
}
