package pathmatch

import "testing"

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*", "a", true},
		{"*", "a.b.c", true},
		{"navigation.position", "navigation.position", true},
		{"navigation.position", "navigation.positions", false},
		{"navigation.position", "navigation.position.extra", false},
		{"navigation.*", "navigation.position", true},
		{"navigation.*", "navigation.course.rhumbline.nextPoint.position", true},
		{"navigation.*", "propulsion.0.revolutions", false},
		{"navigation.*", "navigation", false},
		{"a.*.c", "a.b.c", true},
		{"a.*.c", "a.b.d", false},
		{"a.*.c", "a.b.c.d", false},
	}

	for _, c := range cases {
		got := Compile(c.pattern).Matches(c.path)
		if got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}

func TestCompileContextSelf(t *testing.T) {
	selfID := "vessels.urn:mrn:signalk:uuid:c0d79334-4e25-4245-8892-54e8ccc8021d"
	p := CompileContext("vessels.self", selfID)
	if !p.Matches(selfID) {
		t.Fatalf("expected vessels.self to expand to an exact match on %q", selfID)
	}
	if p.Matches("vessels.urn:mrn:signalk:uuid:other") {
		t.Fatalf("vessels.self must not match a different vessel")
	}
}

func TestCompileContextWildcard(t *testing.T) {
	p := CompileContext("vessels.*", "vessels.urn:mrn:signalk:uuid:self")
	if !p.Matches("vessels.urn:mrn:signalk:uuid:other") {
		t.Fatalf("vessels.* must match any vessel context")
	}
}
