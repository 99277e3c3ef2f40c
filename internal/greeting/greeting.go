// Package greeting holds the static multilingual greeting dictionary.
package greeting

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// DefaultLanguage is used whenever a code is unknown.
const DefaultLanguage = "en"

var greetings = map[string]string{
	"ru": "Привет, мир!",
	"en": "Hello, World!",
	"es": "Hola, Mundo!",
	"fr": "Bonjour, le monde!",
	"de": "Hallo, Welt!",
	"it": "Ciao, mondo!",
	"ja": "こんにちは、世界！",
	"zh": "你好，世界！",
	"ar": "مرحبا بالعالم!",
	"hi": "नमस्ते, दुनिया!",
	"pt": "Olá, Mundo!",
	"ko": "안녕하세요, 세계!",
	"tr": "Merhaba, Dünya!",
	"pl": "Witaj, świecie!",
	"nl": "Hallo, wereld!",
	"sv": "Hej, världen!",
	"no": "Hei, verden!",
	"fi": "Hei, maailma!",
	"da": "Hej, verden!",
	"cs": "Ahoj, světe!",
	"hu": "Helló, világ!",
	"ro": "Salut, lume!",
	"bg": "Здравей, свят!",
	"hr": "Pozdrav, svijete!",
	"sk": "Ahoj, svet!",
	"sl": "Pozdravljen, svet!",
	"et": "Tere, maailm!",
	"lv": "Sveika, pasaule!",
	"lt": "Labas, pasauli!",
	"mt": "Hello, dinja!",
}

var names = map[string]string{
	"ru": "Русский", "en": "English", "es": "Español", "fr": "Français",
	"de": "Deutsch", "it": "Italiano", "ja": "日本語", "zh": "中文",
	"ar": "العربية", "hi": "हिन्दी", "pt": "Português", "ko": "한국어",
	"tr": "Türkçe", "pl": "Polski", "nl": "Nederlands", "sv": "Svenska",
	"no": "Norsk", "fi": "Suomi", "da": "Dansk", "cs": "Čeština",
	"hu": "Magyar", "ro": "Română", "bg": "Български", "hr": "Hrvatski",
	"sk": "Slovenčina", "sl": "Slovenščina", "et": "Eesti", "lv": "Latviešu",
	"lt": "Lietuvių", "mt": "Malti",
}

// Info describes one supported language.
type Info struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Greeting string `json:"greeting"`
}

// Picker chooses one option from a non-empty list.
type Picker interface {
	Pick(options []string) string
}

// Store is a read-only view over the greeting dictionary.
type Store struct {
	codes []string
}

// NewStore creates a greeting store.
func NewStore() *Store {
	codes := make([]string, 0, len(greetings))
	for code := range greetings {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return &Store{codes: codes}
}

// Normalize maps a BCP 47 tag such as "EN-us" or "pt_BR" to its base
// language code. Unparsable input is returned lower-cased and trimmed.
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	// Raw keeps codes such as "no" from being remapped to "nb".
	tag, err := language.Raw.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil {
		return strings.ToLower(code)
	}
	base, _ := tag.Base()
	return base.String()
}

// Supports reports whether code has a greeting.
func (s *Store) Supports(code string) bool {
	_, ok := greetings[Normalize(code)]
	return ok
}

// Greet returns the greeting for code, or the default language greeting.
func (s *Store) Greet(code string) string {
	if g, ok := greetings[Normalize(code)]; ok {
		return g
	}
	return greetings[DefaultLanguage]
}

// Languages returns all supported codes in sorted order.
func (s *Store) Languages() []string {
	return append([]string(nil), s.codes...)
}

// Info returns details about a language. Unknown codes get an upper-cased
// name and the greeting "Unknown".
func (s *Store) Info(code string) Info {
	code = Normalize(code)
	name, ok := names[code]
	if !ok {
		name = strings.ToUpper(code)
	}
	g, ok := greetings[code]
	if !ok {
		g = "Unknown"
	}
	return Info{Code: code, Name: name, Greeting: g}
}

// All returns Info for every supported language.
func (s *Store) All() []Info {
	out := make([]Info, 0, len(s.codes))
	for _, code := range s.codes {
		out = append(out, s.Info(code))
	}
	return out
}

// Search finds languages whose code, name or greeting contains query.
func (s *Store) Search(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var matches []string
	for _, code := range s.codes {
		if strings.Contains(code, query) ||
			strings.Contains(strings.ToLower(names[code]), query) ||
			strings.Contains(strings.ToLower(greetings[code]), query) {
			matches = append(matches, code)
		}
	}
	return matches
}

// Random picks a language and returns its Info.
func (s *Store) Random(p Picker) Info {
	return s.Info(p.Pick(s.codes))
}
