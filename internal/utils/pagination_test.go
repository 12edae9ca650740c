package utils

import "testing"

func TestParsePage(t *testing.T) {
	cases := []struct {
		page, size string
		want       Page
	}{
		{"", "", Page{1, 20}},
		{"3", "50", Page{3, 50}},
		{"0", "0", Page{1, 1}},
		{"-2", "500", Page{1, 100}},
		{"x", " 5", Page{1, 20}},
		{"999999999999999999999999", "10", Page{1, 10}},
	}
	for _, tc := range cases {
		if got := ParsePage(tc.page, tc.size, 20, 100); got != tc.want {
			t.Fatalf("ParsePage(%q, %q) = %+v; want %+v", tc.page, tc.size, got, tc.want)
		}
	}
}

func TestPage_Bounds(t *testing.T) {
	cases := []struct {
		p               Page
		total           int
		from, to, pages int
	}{
		{Page{1, 2}, 5, 0, 2, 3},
		{Page{3, 2}, 5, 4, 5, 3},
		{Page{4, 2}, 5, 5, 5, 3},
		{Page{1, 20}, 0, 0, 0, 0},
	}
	for _, tc := range cases {
		from, to, pages := tc.p.Bounds(tc.total)
		if from != tc.from || to != tc.to || pages != tc.pages {
			t.Fatalf("%+v.Bounds(%d) = %d,%d,%d; want %d,%d,%d",
				tc.p, tc.total, from, to, pages, tc.from, tc.to, tc.pages)
		}
	}
}
