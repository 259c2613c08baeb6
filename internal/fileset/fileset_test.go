package fileset

import "testing"

func TestSetContains(t *testing.T) {
	var s Set
	s.Add("./usr/bin/hello")
	s.Add("/etc/srv.conf")
	s.Add("usr/lib/libfoo.so")

	if !s.Contains("usr/bin/hello") {
		t.Error("expected usr/bin/hello to be contained (leading ./ stripped)")
	}
	if !s.Contains("/etc/srv.conf") {
		t.Error("expected /etc/srv.conf to be contained via normalized lookup")
	}
	if s.Contains("usr/bin/missing") {
		t.Error("did not expect usr/bin/missing to be contained")
	}
}

func TestSetDedup(t *testing.T) {
	var s Set
	s.Add("a/b")
	s.Add("./a/b")
	s.Add("a/b")
	if got := s.Len(); got != 1 {
		t.Errorf("expected 1 distinct path, got %d", got)
	}
}

func TestSetAddAfterSort(t *testing.T) {
	var s Set
	s.Add("b")
	s.Sort()
	s.Add("a")
	if !s.Contains("a") || !s.Contains("b") {
		t.Error("expected both a and b to be found after interleaved Add/Sort")
	}
}
