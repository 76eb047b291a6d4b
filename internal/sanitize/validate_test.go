package sanitize

import "testing"

func TestValidatePath(t *testing.T) {
	t.Parallel()

	t.Run("rejects empty path", func(t *testing.T) {
		t.Parallel()
		if _, err := ValidatePath("", ""); err == nil {
			t.Fatal("expected error for empty path")
		}
	})

	t.Run("rejects traversal", func(t *testing.T) {
		t.Parallel()
		if _, err := ValidatePath("../etc/passwd", ""); err == nil {
			t.Fatal("expected error for traversal path")
		}
	})

	t.Run("accepts clean relative path", func(t *testing.T) {
		t.Parallel()
		abs, err := ValidatePath("repo/src", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if abs == "" {
			t.Fatal("expected non-empty absolute path")
		}
	})

	t.Run("rejects path escaping allowed root", func(t *testing.T) {
		t.Parallel()
		if _, err := ValidatePath("/etc/passwd", "/home/bundles"); err == nil {
			t.Fatal("expected error for path outside allowed root")
		}
	})
}

func TestIsUUIDv4(t *testing.T) {
	t.Parallel()

	cases := []struct {
		id   string
		want bool
	}{
		{"f47ac10b-58cc-4372-a567-0e02b2c3d479", true},
		{"F47AC10B-58CC-4372-A567-0E02B2C3D479", true},
		{"not-a-uuid", false},
		{"", false},
		{"f47ac10b-58cc-1372-a567-0e02b2c3d479", false}, // wrong version nibble
	}

	for _, tc := range cases {
		if got := IsUUIDv4(tc.id); got != tc.want {
			t.Errorf("IsUUIDv4(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestValidateGlobPattern(t *testing.T) {
	t.Parallel()

	if err := ValidateGlobPattern("*.go"); err != nil {
		t.Fatalf("unexpected error for safe pattern: %v", err)
	}
	if err := ValidateGlobPattern(""); err != nil {
		t.Fatalf("empty pattern should be allowed: %v", err)
	}
	if err := ValidateGlobPattern("$(rm -rf /)"); err == nil {
		t.Fatal("expected error for dangerous pattern")
	}
	if err := ValidateGlobPattern("../*.go"); err == nil {
		t.Fatal("expected error for traversal pattern")
	}
}
