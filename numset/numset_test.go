package numset

import "testing"

func TestImapSet_StringRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"single", "1"},
		{"range", "3:5"},
		{"mixed", "1,3:5,9"},
		{"star", "*"},
		{"open_range", "9:*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if got := s.String(); got != tt.in {
				t.Fatalf("String() = %q, want %q", got, tt.in)
			}
		})
	}
}

func TestImapSet_AdjacentRangesCoalesce(t *testing.T) {
	s := New()
	s.AddRange(1, 5)
	s.AddRange(6, 10)
	if got, want := s.String(), "1:10"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestImapSet_OverlappingRangesCoalesce(t *testing.T) {
	s := New()
	s.AddRange(1, 10)
	s.AddRange(5, 15)
	if got, want := s.String(), "1:15"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestImapSet_DisjointRangesStaySeparate(t *testing.T) {
	s := New()
	s.AddRange(1, 2)
	s.AddRange(100, 200)
	if got, want := s.String(), "1:2,100:200"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestImapSet_StarAbsorbsOverlappingFiniteRange(t *testing.T) {
	s := New()
	s.AddStar(100)
	s.AddRange(50, 101)
	if got, want := s.String(), "50:*"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestImapSet_StarLeavesDisjointRangeAlone(t *testing.T) {
	s := New()
	s.AddStar(100)
	s.AddRange(1, 2)
	if got, want := s.String(), "1:2,100:*"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestImapSet_Contains(t *testing.T) {
	s, err := Parse("1,3:5,9:*")
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []uint64{1, 3, 4, 5, 9, 1000} {
		if !s.Contains(n) {
			t.Errorf("expected %d to be contained in %s", n, s)
		}
	}
	for _, n := range []uint64{2, 6, 8} {
		if s.Contains(n) {
			t.Errorf("expected %d to not be contained in %s", n, s)
		}
	}
}

func TestImapSet_ParseRejectsInvalid(t *testing.T) {
	for _, bad := range []string{"0", "1,,2", "a:b", "1:0", ""} {
		if bad == "" {
			continue // empty string is valid: empty set
		}
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) should have failed", bad)
		}
	}
}

func TestImapSet_ParseEmptyIsEmptySet(t *testing.T) {
	s, err := Parse("")
	if err != nil {
		t.Fatal(err)
	}
	if !s.IsEmpty() {
		t.Fatalf("expected empty set, got %s", s)
	}
}
