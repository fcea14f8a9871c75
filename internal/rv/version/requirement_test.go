package version

import "testing"

func TestRequirementSatisfies(t *testing.T) {
	r, err := ParseRequirement(">= 1.1.0, < 2.0.0")
	if err != nil {
		t.Fatal(err)
	}
	yes := MustParse("1.1.3")
	no := MustParse("2.0.0")
	if !r.Satisfies(yes) {
		t.Errorf("expected %s to satisfy %q", yes, r)
	}
	if r.Satisfies(no) {
		t.Errorf("expected %s to NOT satisfy %q", no, r)
	}
}

func TestRequirementAnyMatchesEverything(t *testing.T) {
	if !Any().Satisfies(MustParse("0.0.1")) {
		t.Fatal("Any() should match everything")
	}
}

func TestIntersectConflict(t *testing.T) {
	a, _ := ParseRequirement(">= 1.0.0")
	b, _ := ParseRequirement("< 1.0.0")
	combined := a.Intersect(b)
	if combined.Satisfiable() {
		t.Fatal("expected empty intersection to be unsatisfiable")
	}
}

func TestIntersectNonConflicting(t *testing.T) {
	a, _ := ParseRequirement(">= 1.0.0")
	b, _ := ParseRequirement("< 2.0.0")
	combined := a.Intersect(b)
	if !combined.Satisfiable() {
		t.Fatal("expected non-empty intersection to be satisfiable")
	}
}

func TestExact(t *testing.T) {
	r := Exact(MustParse("1.2.3"))
	v, ok := r.Exact()
	if !ok || v.String() != "1.2.3" {
		t.Fatalf("Exact() = %v, %v", v, ok)
	}

	open, _ := ParseRequirement(">= 1.0.0")
	if _, ok := open.Exact(); ok {
		t.Fatal("open requirement should not report Exact")
	}
}

func TestBestTieBreaksOnHighestVersion(t *testing.T) {
	candidates := []Version{MustParse("1.0.0"), MustParse("1.2.0"), MustParse("1.1.0")}
	r, _ := ParseRequirement(">= 1.0.0")
	best, ok := Best(candidates, r)
	if !ok || best.String() != "1.2.0" {
		t.Fatalf("Best() = %v, %v, want 1.2.0", best, ok)
	}
}
