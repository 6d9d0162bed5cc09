package database

import (
	"strings"
	"testing"
)

func TestEnsureTimezoneUTC(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "adds timezone",
			in:   "postgres://app:pw@localhost:5432/adjust?sslmode=disable",
			want: "TimeZone=UTC",
		},
		{
			name: "keeps explicit timezone",
			in:   "postgres://app:pw@localhost:5432/adjust?TimeZone=America%2FChicago",
			want: "TimeZone=America%2FChicago",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ensureTimezoneUTC(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("expected %q in %q", tt.want, got)
			}
		})
	}
}

func TestInitRequiresURL(t *testing.T) {
	if _, err := Init("", DefaultPoolOptions); err == nil {
		t.Errorf("expected error for empty database URL")
	}
}

func TestAutoMigrateNilDB(t *testing.T) {
	if err := AutoMigrate(nil); err == nil {
		t.Errorf("expected error for nil db")
	}
}
