package sequencer

import (
	"errors"
	"strings"
	"testing"

	"github.com/atomikpanda/converge/internal/spec"
)

func keys(specs []spec.Spec) string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Key()
	}
	return strings.Join(out, " ")
}

func dir(id string, deps ...string) spec.Spec {
	return spec.Spec{Kind: spec.Directory, Identity: id, DependsOn: deps}
}

func file(id string, deps ...string) spec.Spec {
	return spec.Spec{Kind: spec.File, Identity: id, DependsOn: deps}
}

func TestOrder(t *testing.T) {
	tests := []struct {
		name  string
		specs []spec.Spec
		want  string
	}{
		{"empty", nil, ""},
		{"declaration order kept", []spec.Spec{dir("a"), dir("b"), dir("c")}, "directory:a directory:b directory:c"},
		{"dependency moves first", []spec.Spec{file("f", "d"), dir("d")}, "directory:d file:f"},
		{"stable among ready", []spec.Spec{dir("a", "c"), dir("b"), dir("c")}, "directory:b directory:c directory:a"},
		{"by key", []spec.Spec{file("x", "directory:x"), dir("x")}, "directory:x file:x"},
		{"diamond", []spec.Spec{
			dir("top", "left", "right"), dir("left", "base"), dir("right", "base"), dir("base"),
		}, "directory:base directory:left directory:right directory:top"},
		{"duplicate refs", []spec.Spec{file("f", "d", "directory:d"), dir("d")}, "directory:d file:f"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Order(tt.specs)
			if err != nil {
				t.Fatal(err)
			}
			if keys(got) != tt.want {
				t.Errorf("Order = %q, want %q", keys(got), tt.want)
			}
		})
	}
}

func TestOrderDeterministic(t *testing.T) {
	specs := []spec.Spec{
		dir("e", "a"), dir("d"), dir("c", "d"), dir("b", "e", "c"), dir("a"),
	}
	first, err := Order(specs)
	if err != nil {
		t.Fatal(err)
	}
	for range 20 {
		again, err := Order(specs)
		if err != nil {
			t.Fatal(err)
		}
		if keys(again) != keys(first) {
			t.Fatalf("order changed: %q vs %q", keys(again), keys(first))
		}
	}
}

func TestOrderReturnsCopies(t *testing.T) {
	specs := []spec.Spec{{Kind: spec.File, Identity: "/a", Attributes: map[string]string{"mode": "0600"}}}
	got, err := Order(specs)
	if err != nil {
		t.Fatal(err)
	}
	got[0].Attributes["mode"] = "0777"
	if specs[0].Attributes["mode"] != "0600" {
		t.Error("Order must not share attribute maps with its input")
	}
}

func TestOrderRejects(t *testing.T) {
	tests := []struct {
		name  string
		specs []spec.Spec
		want  string
	}{
		{"cycle", []spec.Spec{dir("a", "b"), dir("b", "a")}, "directory:a -> directory:b -> directory:a"},
		{"three cycle behind a dependent", []spec.Spec{
			dir("x", "a"), dir("a", "b"), dir("b", "c"), dir("c", "a"),
		}, "directory:a -> directory:b -> directory:c -> directory:a"},
		{"unknown ref", []spec.Spec{dir("a", "ghost")}, `unknown spec "ghost"`},
		{"unknown key", []spec.Spec{dir("a", "file:a")}, `unknown spec "file:a"`},
		{"ambiguous", []spec.Spec{dir("x"), file("x"), dir("y", "x")}, "ambiguous"},
		{"duplicate", []spec.Spec{dir("a"), dir("a")}, "declared twice"},
		{"invalid spec", []spec.Spec{dir("a"), {Kind: "cron", Identity: "x"}}, `unknown kind "cron"`},
		{"self", []spec.Spec{dir("a", "a")}, "depends on itself"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Order(tt.specs)
			if got != nil {
				t.Errorf("partial order returned: %v", keys(got))
			}
			var verr *spec.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *spec.ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestOrderCollectsAllIssues(t *testing.T) {
	_, err := Order([]spec.Spec{dir("a", "ghost"), {Kind: spec.File}, dir("a")})
	var verr *spec.ValidationError
	if !errors.As(err, &verr) {
		t.Fatal(err)
	}
	if len(verr.Issues) < 3 {
		t.Errorf("Issues = %v, want every problem reported", verr.Issues)
	}
}

func TestGraph(t *testing.T) {
	edges, err := Graph([]spec.Spec{file("f", "d", "g"), dir("d"), dir("g")})
	if err != nil {
		t.Fatal(err)
	}
	want := []Edge{{"file:f", "directory:d"}, {"file:f", "directory:g"}}
	if len(edges) != len(want) {
		t.Fatalf("edges = %v", edges)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("edge %d = %v, want %v", i, edges[i], want[i])
		}
	}
}
