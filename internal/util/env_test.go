package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	const key = "NUTRITRACK_TEST_BOOL"

	cases := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"No", true, false},
		{"off", true, false},
		{"garbage", true, true},
		{"garbage", false, false},
	}
	for _, tc := range cases {
		t.Setenv(key, tc.value)
		if got := ParseBoolEnv(key, tc.def); got != tc.want {
			t.Errorf("ParseBoolEnv(%q, %v) with value %q = %v, want %v", key, tc.def, tc.value, got, tc.want)
		}
	}
}
