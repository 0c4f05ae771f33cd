package cmd

import (
	"errors"
	"strings"
	"testing"

	"github.com/inovacc/deploywatch/internal/reconcile"
)

func TestMaskToken(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "short token", input: "abc", expected: "***"},
		{name: "eight chars", input: "abcdefgh", expected: "********"},
		{name: "long token", input: "abcd1234wxyz", expected: "abcd****wxyz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := maskToken(tt.input)
			if result != tt.expected {
				t.Errorf("maskToken(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPadRight(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		length   int
		expected string
	}{
		{name: "pads", input: "ab", length: 5, expected: "ab   "},
		{name: "exact", input: "abcde", length: 5, expected: "abcde"},
		{name: "longer", input: "abcdef", length: 3, expected: "abcdef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := padRight(tt.input, tt.length)
			if result != tt.expected {
				t.Errorf("padRight(%q, %d) = %q, want %q", tt.input, tt.length, result, tt.expected)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{name: "shorter than max", input: "team", maxLen: 10, expected: "team"},
		{name: "truncated", input: "my-very-long-team", maxLen: 10, expected: "my-very..."},
		{name: "tiny max", input: "abcdef", maxLen: 2, expected: "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncateString(tt.input, tt.maxLen)
			if result != tt.expected {
				t.Errorf("truncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
			}
		})
	}
}

func TestExplainToggleError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		hint     string
	}{
		{name: "not eligible", err: reconcile.ErrNotEligible, sentinel: reconcile.ErrNotEligible, hint: "upgrade"},
		{name: "permission denied", err: reconcile.ErrPermissionDenied, sentinel: reconcile.ErrPermissionDenied, hint: "push grant"},
		{name: "unknown event", err: reconcile.ErrUnknownEvent, sentinel: reconcile.ErrUnknownEvent, hint: "known events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := explainToggleError(tt.err)
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("explainToggleError(%v) lost the sentinel", tt.err)
			}

			if !strings.Contains(err.Error(), tt.hint) {
				t.Errorf("explainToggleError(%v) = %q, want hint %q", tt.err, err.Error(), tt.hint)
			}
		})
	}

	t.Run("other errors pass through", func(t *testing.T) {
		other := errors.New("boom")
		if err := explainToggleError(other); err != other {
			t.Errorf("explainToggleError(other) = %v, want %v", err, other)
		}
	})
}

func TestRootCmd(t *testing.T) {
	want := []string{"connection", "notifications", "push", "sync", "watch", "config"}

	for _, name := range want {
		t.Run(name, func(t *testing.T) {
			found := false

			for _, c := range rootCmd.Commands() {
				if c.Name() == name {
					found = true

					break
				}
			}

			if !found {
				t.Errorf("rootCmd is missing the %q command", name)
			}
		})
	}
}

func TestNotificationsFlags(t *testing.T) {
	for _, c := range []string{"enable", "disable", "set"} {
		t.Run(c, func(t *testing.T) {
			sub, _, err := notificationsCmd.Find([]string{c})
			if err != nil {
				t.Fatalf("Find(%q) error = %v", c, err)
			}

			for _, flag := range []string{"connection", "team"} {
				if sub.Flags().Lookup(flag) == nil {
					t.Errorf("%s is missing --%s", c, flag)
				}
			}
		})
	}
}
