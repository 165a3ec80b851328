package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidatorChecks(t *testing.T) {
	cases := []struct {
		name string
		run  func(*Validator)
		bad  bool
	}{
		{"non-empty ok", func(v *Validator) { v.RequireNonEmpty("f", "x") }, false},
		{"empty", func(v *Validator) { v.RequireNonEmpty("f", "") }, true},
		{"blank", func(v *Validator) { v.RequireNonEmpty("f", "  ") }, true},
		{"positive", func(v *Validator) { v.RequirePositive("f", 3) }, false},
		{"zero", func(v *Validator) { v.RequirePositive("f", 0) }, true},
		{"range low edge", func(v *Validator) { v.ValidateRange("f", 1, 1, 10) }, false},
		{"range high edge", func(v *Validator) { v.ValidateRange("f", 10, 1, 10) }, false},
		{"range above", func(v *Validator) { v.ValidateRange("f", 11, 1, 10) }, true},
		{"temperature", func(v *Validator) { v.ValidateFloatRange("f", 0.7, 0, 2) }, false},
		{"temperature negative", func(v *Validator) { v.ValidateFloatRange("f", -0.1, 0, 2) }, true},
		{"redis db 15", func(v *Validator) { v.ValidateDBNumber("f", 15) }, false},
		{"redis db 16", func(v *Validator) { v.ValidateDBNumber("f", 16) }, true},
		{"language en", func(v *Validator) { v.ValidateOneOf("f", "en", "cn", "en") }, false},
		{"language fr", func(v *Validator) { v.ValidateOneOf("f", "fr", "cn", "en") }, true},
		{"nothing allowed", func(v *Validator) { v.ValidateOneOf("f", "x") }, true},
		{"table", func(v *Validator) { v.ValidateIdentifier("f", "survey_reports") }, false},
		{"leading digit", func(v *Validator) { v.ValidateIdentifier("f", "1reports") }, true},
		{"injection", func(v *Validator) { v.ValidateIdentifier("f", "r; DROP TABLE x") }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewValidator()
			tc.run(v)
			if v.HasErrors() != tc.bad {
				t.Fatalf("HasErrors() = %v, want %v (%v)", v.HasErrors(), tc.bad, v.Errors())
			}
			if (v.Error() != nil) != tc.bad {
				t.Fatalf("Error() = %v", v.Error())
			}
		})
	}
}

func TestValidatorReportsEveryField(t *testing.T) {
	v := NewValidator().
		RequireNonEmpty("llm.model", "").
		RequirePositive("pool.concurrency", 0).
		ValidateOneOf("language", "de", "cn", "en")

	if got := len(v.Errors()); got != 3 {
		t.Fatalf("Errors() = %d, want 3", got)
	}
	err := v.Error()
	for _, field := range []string{"llm.model", "pool.concurrency", "language"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
	var fe FieldError
	if !errors.As(err, &fe) || fe.Field != "llm.model" {
		t.Fatalf("errors.As = %+v", fe)
	}
}
