package models

import (
	"encoding/json"
	"testing"
)

func TestCreditsString(t *testing.T) {
	cases := []struct {
		in   Credits
		want string
	}{
		{0, "0.00"},
		{QuarterCredit, "0.25"},
		{HalfCredit, "0.50"},
		{WholeCredits(5), "5.00"},
		{Credits(225), "2.25"},
		{Credits(-75), "-0.75"},
	}
	for _, c := range cases {
		if got := c.in.String(); got != c.want {
			t.Errorf("Credits(%d).String() = %q, want %q", int64(c.in), got, c.want)
		}
	}
}

func TestParseCredits(t *testing.T) {
	cases := map[string]Credits{
		"1":     Credit,
		"0.25":  QuarterCredit,
		"2.5":   Credits(250),
		"0.75":  Credits(75),
		"-1.25": Credits(-125),
	}
	for in, want := range cases {
		got, err := ParseCredits(in)
		if err != nil {
			t.Fatalf("ParseCredits(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseCredits(%q) = %d, want %d", in, got, want)
		}
	}
	for _, bad := range []string{"", "abc", "1.234", "1.", "1.-5", "1.+5", "-", "+5", ".75", "-.5", "1.5e1", "--1"} {
		if _, err := ParseCredits(bad); err == nil {
			t.Errorf("ParseCredits(%q): expected error", bad)
		}
	}
}

func TestCreditsJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Balance Credits `json:"balance"`
	}{Credits(1025)})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"balance":10.25}` {
		t.Errorf("marshal: got %s", b)
	}
	var out struct {
		Balance Credits `json:"balance"`
	}
	if err := json.Unmarshal([]byte(`{"balance":3.5}`), &out); err != nil {
		t.Fatal(err)
	}
	if out.Balance != Credits(350) {
		t.Errorf("unmarshal: got %d, want 350", out.Balance)
	}
}
