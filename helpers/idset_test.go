package helpers

import (
	"reflect"
	"testing"
)

func TestIDSetAdd(t *testing.T) {
	s := NewIDSet("a", "b", "a")

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if s.Add("a") {
		t.Error("Add of existing id reported new")
	}
	if !s.Add("c") {
		t.Error("Add of new id reported existing")
	}
	if s.Add("") {
		t.Error("empty id should be ignored")
	}
	if !reflect.DeepEqual(s.IDs(), []string{"a", "b", "c"}) {
		t.Errorf("IDs() = %v", s.IDs())
	}
}

func TestIDSetIDsIsCopy(t *testing.T) {
	s := NewIDSet("a")
	ids := s.IDs()
	ids[0] = "mutated"
	if !s.Has("a") || s.IDs()[0] != "a" {
		t.Error("IDs() leaked internal slice")
	}
}

func TestIDSetFilter(t *testing.T) {
	s := NewIDSet("seen1", "seen2")
	got := s.Filter([]string{"new1", "seen1", "new2", "new1", "", "seen2"})
	want := []string{"new1", "new2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Filter() = %v, want %v", got, want)
	}
	if s.Len() != 2 {
		t.Errorf("Filter mutated the set: Len() = %d", s.Len())
	}
}

func TestFallbackMessage(t *testing.T) {
	for key := range Fallbacks {
		if FallbackMessage(key) == "" {
			t.Errorf("empty fallback for %q", key)
		}
	}
	if got := FallbackMessage("unknown"); got != "Something went wrong. Try again." {
		t.Errorf("FallbackMessage(unknown) = %q", got)
	}
}
