package spread

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestEvaluate(t *testing.T) {
	cases := []struct {
		streamed, polled string
		want             string
		ok               bool
	}{
		{"100", "106", "6", true},
		{"100", "94", "-6", true},
		{"0.5", "0.5", "0", true},
		{"0", "1", "", false},
		{"1", "0", "", false},
		{"-1", "1", "", false},
	}
	for _, tc := range cases {
		got, ok := Evaluate(d(tc.streamed), d(tc.polled))
		if ok != tc.ok {
			t.Fatalf("Evaluate(%s,%s) ok=%v want %v", tc.streamed, tc.polled, ok, tc.ok)
		}
		if ok && !got.Equal(d(tc.want)) {
			t.Fatalf("Evaluate(%s,%s)=%s want %s", tc.streamed, tc.polled, got, tc.want)
		}
	}
}

func TestEvaluatePointsMissingSide(t *testing.T) {
	if _, ok := EvaluatePoints(nil, nil); ok {
		t.Fatal("missing prices must be undefined")
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Severity{
		"0":    SeverityLow,
		"1.99": SeverityLow,
		"2":    SeverityMedium,
		"-4.9": SeverityMedium,
		"5":    SeverityHigh,
		"-12":  SeverityHigh,
	}
	for in, want := range cases {
		if got := Classify(d(in)); got != want {
			t.Fatalf("Classify(%s)=%s want %s", in, got, want)
		}
	}
}

func TestAlertKey(t *testing.T) {
	if AlertKey("PEPE", d("5.1")) != AlertKey("PEPE", d("5.9")) {
		t.Fatal("5.1 and 5.9 must share a key")
	}
	if AlertKey("PEPE", d("5.9")) == AlertKey("PEPE", d("6.4")) {
		t.Fatal("5.9 and 6.4 must not share a key")
	}
	if got := AlertKey("PEPE", d("-6.7")); got != "PEPE_6" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestExceedsAndDirection(t *testing.T) {
	if !Exceeds(d("-5"), DefaultThreshold) {
		t.Fatal("|-5| should reach threshold 5")
	}
	if Exceeds(d("4.99"), DefaultThreshold) {
		t.Fatal("4.99 should not reach threshold 5")
	}
	if Direction(d("1")) != "premium" || Direction(d("-1")) != "discount" || Direction(decimal.Zero) != "flat" {
		t.Fatal("unexpected direction mapping")
	}
}
