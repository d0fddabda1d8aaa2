package dingtalk

import (
	"reflect"
	"testing"
)

func TestParseAtList(t *testing.T) {
	t.Parallel()
	got := ParseAtList([]string{"all", "13800000000", "manager4567", "98765432109", "ops"})
	want := AtList{
		UserIDs: []string{"manager4567", "ops"},
		Mobiles: []string{"13800000000", "98765432109"},
		AtAll:   true,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseAtList = %+v, want %+v", got, want)
	}
}

func TestParseAtListEmpty(t *testing.T) {
	t.Parallel()
	got := ParseAtList(nil)
	if got.UserIDs == nil || got.Mobiles == nil {
		t.Fatal("buckets must be non-nil so they marshal as empty arrays")
	}
	if len(got.UserIDs) != 0 || len(got.Mobiles) != 0 || got.AtAll {
		t.Errorf("ParseAtList(nil) = %+v, want empty", got)
	}
}

func TestFormatMentions(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		text    string
		atUsers []string
		want    string
	}{
		{"no mentions", "line1\nline2", nil, "line1\n\nline2"},
		{"single mention", "done", []string{"manager4567"}, "done\n\n @manager4567"},
		{"multiple mentions", "done", []string{"a", "b"}, "done\n\n @a @b"},
		{"all wins", "done", []string{"a", "all", "b"}, "done\n\n @所有人"},
		{"trailing whitespace trimmed", "done\n", []string{"a"}, "done\n\n @a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := FormatMentions(tc.text, tc.atUsers); got != tc.want {
				t.Errorf("FormatMentions(%q, %v) = %q, want %q", tc.text, tc.atUsers, got, tc.want)
			}
		})
	}
}

func TestIsMarkdown(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want bool
	}{
		{"# heading", true},
		{"**bold**", true},
		{"[link](https://example.com)", true},
		{"`code`", true},
		{"> quote", true},
		{"- item", true},
		{"1. item", true},
		{"plain text", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsMarkdown(tc.in); got != tc.want {
			t.Errorf("IsMarkdown(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
