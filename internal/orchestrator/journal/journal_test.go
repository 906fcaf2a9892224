package journal

import "testing"

func TestStoreAdd(t *testing.T) {
	s := NewStore(30, 10)
	s.Add(KindStatus, "Harvesting", "3 rounds left")

	entries := s.Recent(0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Headline != "Harvesting" || entries[0].Kind != KindStatus || entries[0].Detail != "3 rounds left" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if entries[0].Time.IsZero() {
		t.Error("entry should be timestamped")
	}
}

func TestStoreMaxSize(t *testing.T) {
	s := NewStore(5, 10)
	for i := 0; i < 10; i++ {
		s.Add(KindStatus, "msg", "")
	}
	if len(s.Recent(0)) != 5 {
		t.Errorf("expected 5 entries, got %d", len(s.Recent(0)))
	}
}

func TestRecentLimit(t *testing.T) {
	s := NewStore(10, 10)
	for _, h := range []string{"a", "b", "c", "d"} {
		s.Add(KindStatus, h, "")
	}
	got := s.Recent(2)
	if len(got) != 2 || got[0].Headline != "c" || got[1].Headline != "d" {
		t.Errorf("Recent(2) = %+v, want c, d", got)
	}
	if len(s.Recent(100)) != 4 {
		t.Errorf("Recent(100) should return all entries")
	}
}

func TestEventsNonBlocking(t *testing.T) {
	s := NewStore(10, 1)
	s.Add(KindStatus, "first", "")
	s.Add(KindStatus, "second", "") // dropped from the channel, kept in the store

	select {
	case e := <-s.Events():
		if e.Headline != "first" {
			t.Errorf("event = %q, want first", e.Headline)
		}
	default:
		t.Fatal("expected buffered event")
	}
	select {
	case e := <-s.Events():
		t.Errorf("unexpected event %q", e.Headline)
	default:
	}
	if len(s.Recent(0)) != 2 {
		t.Error("store should keep both entries")
	}
}
