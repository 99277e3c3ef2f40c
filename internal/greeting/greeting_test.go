package greeting

import "testing"

type firstPicker struct{}

func (firstPicker) Pick(options []string) string { return options[0] }

func TestGreetFallsBackToDefault(t *testing.T) {
	s := NewStore()
	if got := s.Greet("ru"); got != "Привет, мир!" {
		t.Errorf("unexpected ru greeting %q", got)
	}
	if got := s.Greet("xx"); got != "Hello, World!" {
		t.Errorf("expected default greeting, got %q", got)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"en":    "en",
		"EN-us": "en",
		"pt_BR": "pt",
		"":      "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSearch(t *testing.T) {
	s := NewStore()
	got := s.Search("hallo")
	if len(got) != 2 || got[0] != "de" || got[1] != "nl" {
		t.Errorf("expected [de nl], got %v", got)
	}
	if s.Search("  ") != nil {
		t.Error("expected nil for blank query")
	}
}

func TestInfoAndRandom(t *testing.T) {
	s := NewStore()
	if len(s.Languages()) != 30 {
		t.Fatalf("expected 30 languages, got %d", len(s.Languages()))
	}
	info := s.Random(firstPicker{})
	if info.Code != "ar" || info.Name != "العربية" {
		t.Errorf("unexpected info %+v", info)
	}
	unknown := s.Info("qq")
	if unknown.Greeting != "Unknown" || unknown.Name != "QQ" {
		t.Errorf("unexpected unknown info %+v", unknown)
	}
}
