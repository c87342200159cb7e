package core

import "testing"

func TestParseAmountToFen(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"88", 8800, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"0.01", 1, true},
		{"0", 0, true},
		{"1.005", 101, true}, // half-up rounding
		{"12.345", 1235, true},
		{" 2.50 ", 250, true},
		{".5", 50, true},
		{"-1", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"1,23", 0, false},
		{"", 0, false},
		{"99999999999999999999", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmountToFen(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestParseAmountToFen_ExtractedAmounts(t *testing.T) {
	// Every amount the extractor can return must convert.
	for _, text := range []string{"到账88元", "收款0.5元", "成功收入1234.5678元"} {
		amount, ok := ExtractAmount(text)
		if !ok {
			t.Fatalf("%q: expected an amount", text)
		}
		if _, err := ParseAmountToFen(amount); err != nil {
			t.Fatalf("%q: amount %q did not convert: %v", text, amount, err)
		}
	}
}
