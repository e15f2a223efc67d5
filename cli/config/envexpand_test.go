package config

import "testing"

func TestExpandEnv(t *testing.T) {
	t.Setenv("SKIN_SET", "real")
	t.Setenv("SKIN_EMPTY", "")
	t.Setenv("SKIN_A", "alice")
	t.Setenv("SKIN_B", "bob")

	tests := []struct {
		name, in, want string
	}{
		{"set", "value: ${SKIN_SET}", "value: real"},
		{"unset", "value: ${SKIN_UNSET_12345}", "value: "},
		{"default when unset", "value: ${SKIN_UNSET_12345:-fallback}", "value: fallback"},
		{"default ignored when set", "value: ${SKIN_SET:-fallback}", "value: real"},
		{"default when empty", "value: ${SKIN_EMPTY:-fallback}", "value: fallback"},
		{"multiple", "${SKIN_A}:${SKIN_B}", "alice:bob"},
		{"no vars", "no variables here", "no variables here"},
		{"bare dollar untouched", "secret: pa$$word $SKIN_SET", "secret: pa$$word $SKIN_SET"},
		{"default with colon", "url: ${SKIN_UNSET_12345:-redis://h:6379}", "url: redis://h:6379"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.in); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandEnv_NestedInYAML(t *testing.T) {
	t.Setenv("HOOK_TOKEN", "token123")

	input := "adapter:\n  headers:\n    Authorization: Bearer ${HOOK_TOKEN}\n"
	want := "adapter:\n  headers:\n    Authorization: Bearer token123\n"
	if got := ExpandEnv(input); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}
