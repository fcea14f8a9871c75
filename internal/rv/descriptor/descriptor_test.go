package descriptor

import (
	"strings"
	"testing"
)

func exampleDescription() string {
	return strings.Join([]string{
		"Package: dplyr",
		"Version: 1.1.3",
		"Depends: R (>= 3.5.0)",
		"Imports: generics (>= 0.1.0), rlang (>= 1.0.0), rlang",
		"Suggests: bench",
		"",
	}, "\n")
}

func TestParseBasic(t *testing.T) {
	d, err := Parse(strings.NewReader(exampleDescription()))
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "dplyr" {
		t.Errorf("Name = %q", d.Name)
	}
	if d.Version.String() != "1.1.3" {
		t.Errorf("Version = %q", d.Version)
	}

	byName := map[string]Edge{}
	for _, e := range d.Edges {
		byName[e.Name] = e
	}

	if _, ok := byName["R"]; ok {
		t.Error("engine dependency R should be filtered out")
	}
	if e, ok := byName["rlang"]; !ok || e.Kind != Soft {
		t.Errorf("rlang edge = %+v, ok=%v, want Soft", e, ok)
	}
	if e, ok := byName["bench"]; !ok || e.Kind != Suggests {
		t.Errorf("bench edge = %+v, ok=%v, want Suggests", e, ok)
	}
}

func TestParseMissingPackage(t *testing.T) {
	if _, err := Parse(strings.NewReader("Version: 1.0.0\n\n")); err == nil {
		t.Fatal("expected error for missing Package field")
	}
}

func TestDependencyKindStrengthOrdering(t *testing.T) {
	if Hard.strength() <= Linking.strength() {
		t.Error("Hard should outrank Linking")
	}
	if Linking.strength() <= Soft.strength() {
		t.Error("Linking should outrank Soft")
	}
	if Soft.strength() <= Suggests.strength() {
		t.Error("Soft should outrank Suggests")
	}
	if Suggests.strength() <= Enhances.strength() {
		t.Error("Suggests should outrank Enhances")
	}
}
