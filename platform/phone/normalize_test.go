package phone

import "testing"

func TestNormalizeE164In(t *testing.T) {
	cases := []struct {
		input  string
		region string
		want   string
	}{
		{"+7 (916) 123-45-67", "RU", "+79161234567"},
		{"8 916 123 45 67", "RU", "+79161234567"},
		{"06 12345678", "NL", "+31612345678"},
		{"  ", "RU", ""},
		{"not a phone", "RU", "not a phone"},
	}

	for _, tc := range cases {
		if got := NormalizeE164In(tc.input, tc.region); got != tc.want {
			t.Errorf("NormalizeE164In(%q, %q) = %q, want %q", tc.input, tc.region, got, tc.want)
		}
	}
}

func TestParseE164InRejectsGarbage(t *testing.T) {
	if got, ok := ParseE164In("8 916 123 45 67", ""); !ok || got != "+79161234567" {
		t.Fatalf("expected +79161234567, got %q (ok=%v)", got, ok)
	}
	for _, in := range []string{"", "not a phone", "123"} {
		if _, ok := ParseE164In(in, "RU"); ok {
			t.Errorf("ParseE164In(%q) should fail", in)
		}
	}
}
