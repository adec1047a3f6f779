package query

import (
	"errors"
	"math"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{
			name:   "empty",
			params: Params{},
			want:   "",
		},
		{
			name:   "keys sorted",
			params: Params{"state": "open", "per_page": 30, "page": 2},
			want:   "page=2&per_page=30&state=open",
		},
		{
			name:   "sequence uses empty brackets",
			params: Params{"labels": []string{"bug", "ui"}},
			want:   "labels[]=bug&labels[]=ui",
		},
		{
			name:   "nested object",
			params: Params{"filter": Params{"state": "open", "author": "me"}},
			want:   "filter[author]=me&filter[state]=open",
		},
		{
			name:   "deeply nested sequence",
			params: Params{"a": Params{"b": Params{"c": []any{1, true, 2.5}}}},
			want:   "a[b][c][]=1&a[b][c][]=true&a[b][c][]=2.5",
		},
		{
			name:   "values are escaped",
			params: Params{"q": "is:open label:\"good first\" & more"},
			want:   "q=is%3Aopen+label%3A%22good+first%22+%26+more",
		},
		{
			name:   "key is escaped, brackets literal",
			params: Params{"a b": Params{"c&d": "x"}},
			want:   "a+b[c%26d]=x",
		},
		{
			name:   "text marshaler",
			params: Params{"since": time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
			want:   "since=2024-01-02T03%3A04%3A05Z",
		},
		{
			name:   "nil values are skipped",
			params: Params{"a": nil, "b": "1", "c": (*int)(nil)},
			want:   "b=1",
		},
		{
			name:   "typed map",
			params: Params{"m": map[string]int{"y": 2, "x": 1}},
			want:   "m[x]=1&m[y]=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.params)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncode_Deterministic(t *testing.T) {
	p := Params{"z": "1", "a": Params{"y": []string{"2", "3"}, "b": "4"}, "m": "5"}
	first, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	for i := 0; i < 50; i++ {
		got, _ := Encode(p)
		if got != first {
			t.Fatalf("Encode() run %d = %q, want %q", i, got, first)
		}
	}
}

func TestEncode_Errors(t *testing.T) {
	cyclic := Params{}
	cyclic["self"] = cyclic

	tests := []struct {
		name      string
		params    Params
		wantParam string
	}{
		{"empty key", Params{"": "x"}, ""},
		{"nested empty key", Params{"a": Params{"": "x"}}, "a[]"},
		{"bracket in key", Params{"a[b]": "x"}, "a[b]"},
		{"sequence of objects", Params{"list": []any{Params{"a": "b"}}}, "list"},
		{"not a number", Params{"f": Params{"g": math.NaN()}}, "f[g]"},
		{"infinity", Params{"f": math.Inf(1)}, "f"},
		{"function", Params{"fn": func() {}}, "fn"},
		{"channel", Params{"ch": make(chan int)}, "ch"},
		{"complex", Params{"c": complex(1, 2)}, "c"},
		{"non-string map keys", Params{"m": map[int]string{1: "a"}}, "m"},
		{"cycle", cyclic, "self"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.params)
			var ee *EncodeError
			if !errors.As(err, &ee) {
				t.Fatalf("Encode() error = %v, want *EncodeError", err)
			}
			if ee.Param != tt.wantParam {
				t.Errorf("Param = %q, want %q", ee.Param, tt.wantParam)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []Params{
		{"a": "1"},
		{"state": "open", "labels": []string{"bug", "needs triage"}},
		{"filter": Params{"author": "gopher", "created": Params{"gte": "2024-01-01"}}},
		{"q": "a=b&c", "ids": []string{"1"}, "nested": Params{"list": []string{"x", "y"}}},
		{"unicode": "héllo wörld", "emoji": "🚀"},
	}

	for _, p := range tests {
		encoded, err := Encode(p)
		if err != nil {
			t.Fatalf("Encode(%v) error = %v", p, err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", encoded, err)
		}
		if diff := cmp.Diff(p, decoded); diff != "" {
			t.Errorf("round trip of %q mismatch (-want +got):\n%s", encoded, diff)
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Params
	}{
		{"leading question mark", "?a=1", Params{"a": "1"}},
		{"repeated plain key", "a=1&a=2", Params{"a": []string{"1", "2"}}},
		{"escaped brackets", "f%5Bx%5D=1", Params{"f": Params{"x": "1"}}},
		{"missing value", "flag", Params{"flag": ""}},
		{"empty parts skipped", "a=1&&b=2&", Params{"a": "1", "b": "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.input)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unbalanced bracket", "a[b=1"},
		{"stray closing bracket", "a]=1"},
		{"missing name", "[a]=1"},
		{"empty bracket in the middle", "a[][b]=1"},
		{"scalar then object", "a=1&a[b]=2"},
		{"object then scalar", "a[b]=2&a=1"},
		{"bad escape", "a=%zz"},
		{"text after bracket", "a[b]c=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Errorf("Decode(%q) error = %v, want *DecodeError", tt.input, err)
			}
		})
	}
}

type searchOptions struct {
	Query   string   `url:"q"`
	Sort    string   `url:"sort,omitempty"`
	Labels  []string `url:"labels,omitempty"`
	Page    int      `url:"page,omitempty"`
	PerPage int      `url:"per_page,omitempty"`
	Filter  struct {
		State string `url:"state,omitempty"`
	} `url:"filter"`
}

type scopeOptions struct {
	Repos []string `url:"repos"`
}

type nestedOptions struct {
	Scope scopeOptions `url:"scope"`
}

type pagingOptions struct {
	IDs []int `url:"ids,omitempty"`
}

type embeddedOptions struct {
	pagingOptions
	Q string `url:"q"`
}

type joinedOptions struct {
	Labels []string `url:"labels,comma"`
}

type bracketOptions struct {
	Labels []string `url:"labels,brackets"`
}

func TestMarshal(t *testing.T) {
	opts := searchOptions{Query: "is:open", Labels: []string{"bug", "ui"}, PerPage: 50}
	opts.Filter.State = "closed"

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, ""},
		{"params", Params{"a": "1"}, "a=1"},
		{"plain map", map[string]any{"b": 2}, "b=2"},
		{"url values", url.Values{"x": {"1", "2"}, "f[y]": {"3"}}, "f[y]=3&x[]=1&x[]=2"},
		{"struct", opts, "filter[state]=closed&labels[]=bug&labels[]=ui&per_page=50&q=is%3Aopen"},
		{"struct pointer", &opts, "filter[state]=closed&labels[]=bug&labels[]=ui&per_page=50&q=is%3Aopen"},
		{"nil struct pointer", (*searchOptions)(nil), ""},
		{"one-element slice field", searchOptions{Query: "x", Labels: []string{"bug"}}, "labels[]=bug&q=x"},
		{"nested slice field", nestedOptions{Scope: scopeOptions{Repos: []string{"go"}}}, "scope[repos][]=go"},
		{"embedded slice field", embeddedOptions{pagingOptions: pagingOptions{IDs: []int{7}}, Q: "x"}, "ids[]=7&q=x"},
		{"comma joined field", joinedOptions{Labels: []string{"bug"}}, "labels=bug"},
		{"brackets option", bracketOptions{Labels: []string{"bug"}}, "labels[]=bug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.value)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Marshal() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMarshal_SequenceIndependentOfLength(t *testing.T) {
	for _, labels := range [][]string{{"bug"}, {"bug", "ui"}} {
		fromStruct, err := Marshal(searchOptions{Query: "x", Labels: labels})
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		fromParams, err := Encode(Params{"q": "x", "labels": labels})
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if fromStruct != fromParams {
			t.Errorf("labels %v: struct encodes as %q, Params as %q", labels, fromStruct, fromParams)
		}
	}
}

func TestMarshal_Unsupported(t *testing.T) {
	var ee *EncodeError
	if _, err := Marshal(42); !errors.As(err, &ee) {
		t.Errorf("Marshal(42) error = %v, want *EncodeError", err)
	}
	if _, err := Marshal(url.Values{"a]": {"1"}}); !errors.As(err, &ee) || ee.Param != "a]" {
		t.Errorf("Marshal() error = %v, want *EncodeError for a]", err)
	}
}

func TestFromValues(t *testing.T) {
	values := url.Values{
		"labels[]":      {"bug", "ui"},
		"filter[state]": {"open"},
		"q":             {"is:issue"},
	}

	got, err := FromValues(values)
	if err != nil {
		t.Fatalf("FromValues() error = %v", err)
	}
	want := Params{
		"labels": []string{"bug", "ui"},
		"filter": Params{"state": "open"},
		"q":      "is:issue",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FromValues() mismatch (-want +got):\n%s", diff)
	}

	encoded, err := Encode(got)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if encoded != "filter[state]=open&labels[]=bug&labels[]=ui&q=is%3Aissue" {
		t.Errorf("Encode(FromValues()) = %q", encoded)
	}
}

func TestFromValues_Conflict(t *testing.T) {
	values := url.Values{
		"f":    {"1"},
		"f[x]": {"2"},
	}
	if _, err := FromValues(values); err == nil {
		t.Fatal("FromValues() expected error for scalar and object under one key")
	}
}
