package dates

import (
	"errors"
	"testing"
	"time"
)

func TestParse_Valid(t *testing.T) {
	t.Parallel()

	got, err := Parse("07/03/2019")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2019, time.March, 7, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestParse_EmptyIsAbsent(t *testing.T) {
	t.Parallel()

	got, err := Parse("")
	if err != nil {
		t.Fatalf("empty input must not error, got %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("empty input must yield zero time, got %v", got)
	}
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	cases := []string{
		"32/01/2020",  // day overflow
		"01/13/2020",  // month overflow
		"29/02/2019",  // not a leap year
		"01/01/20201", // extra digit in year
		"1/1/2020",    // single-digit day/month
		"2020-01-01",  // wrong notation
		"not a date",
	}
	for _, in := range cases {
		if _, err := Parse(in); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Parse(%q): want ErrMalformed, got %v", in, err)
		}
	}
}

func TestToISO_RoundTrip(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"01/01/2004": "2004-01-01",
		"29/02/2020": "2020-02-29",
		"31/12/1999": "1999-12-31",
	}
	for in, want := range cases {
		if got := ToISO(in); got != want {
			t.Fatalf("ToISO(%q)=%q want %q", in, got, want)
		}
	}
}

func TestToISO_Sentinels(t *testing.T) {
	t.Parallel()

	if got := ToISO(""); got != "" {
		t.Fatalf("empty input: got %q want empty", got)
	}
	if got := ToISO("99/99/9999"); got != Invalid {
		t.Fatalf("malformed input: got %q want sentinel", got)
	}
}

func TestParseISO(t *testing.T) {
	t.Parallel()

	if _, ok := ParseISO(Invalid); ok {
		t.Fatalf("sentinel must not parse")
	}
	if _, ok := ParseISO(""); ok {
		t.Fatalf("empty must not parse")
	}
	got, ok := ParseISO("2021-06-15")
	if !ok {
		t.Fatalf("valid ISO did not parse")
	}
	if got.Day() != 15 || got.Month() != time.June || got.Year() != 2021 {
		t.Fatalf("wrong components: %v", got)
	}
}
