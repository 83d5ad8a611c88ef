package safecmp

import "testing"

func TestEqual(t *testing.T) {
	type testCase struct {
		a, b  string
		equal bool
	}
	for _, tc := range []testCase{
		{"", "", true},
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"abc", "xbc", false},
		{"abc", "abcd", false},
		{"abc", "", false},
	} {
		if actual := EqualString(tc.a, tc.b); actual != tc.equal {
			t.Errorf("EqualString(%q, %q) should return %v got %v", tc.a, tc.b, tc.equal, actual)
		}
		if actual := Equal([]byte(tc.a), []byte(tc.b)); actual != tc.equal {
			t.Errorf("Equal(%q, %q) should return %v got %v", tc.a, tc.b, tc.equal, actual)
		}
	}
}
