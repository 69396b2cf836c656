package security

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateSegment(t *testing.T) {
	tests := []struct {
		name    string
		segment string
		wantErr bool
	}{
		{"plain id", "field-17", false},
		{"date", "2024-05-01", false},
		{"dots inside", "plot.v2", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"parent", "..", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"nul", "a\x00b", true},
		{"too long", strings.Repeat("x", 129), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSegment(tt.segment)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateSegment(%q) error = %v, wantErr %v", tt.segment, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnsafePath) {
				t.Errorf("error %v does not wrap ErrUnsafePath", err)
			}
		})
	}
}

func TestJoinWithin(t *testing.T) {
	tests := []struct {
		name    string
		root    string
		elems   []string
		want    string
		wantErr bool
	}{
		{"nested", "/out", []string{"field-17", "2024-05-01"}, "/out/field-17/2024-05-01", false},
		{"relative root", "output", []string{"p1"}, "output/p1", false},
		{"unclean root", "/out/./x/..", []string{"p1"}, "/out/p1", false},
		{"inner dotdot stays inside", "/out", []string{"a", "..", "b"}, "/out/b", false},
		{"root itself", "/out", nil, "/out", false},
		{"escape", "/out", []string{"..", "etc"}, "", true},
		{"escape via element", "/out", []string{"../../etc/passwd"}, "", true},
		{"sibling prefix", "/out", []string{"..", "out2"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JoinWithin(tt.root, tt.elems...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("JoinWithin(%q, %q) error = %v, wantErr %v", tt.root, tt.elems, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("JoinWithin(%q, %q) = %q, want %q", tt.root, tt.elems, got, tt.want)
			}
		})
	}
}
