package domain

import (
	"fmt"
	"strings"
)

// Language identifies one of the supported source languages.
type Language string

const (
	JavaScript Language = "javascript"
	Python     Language = "python"
	Cpp        Language = "cpp"
)

// DefaultLanguage is selected for newly created rooms.
const DefaultLanguage = JavaScript

// Languages returns every supported language in display order.
func Languages() []Language {
	return []Language{JavaScript, Python, Cpp}
}

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	switch l {
	case JavaScript, Python, Cpp:
		return true
	}
	return false
}

// ParseLanguage normalizes s and checks it against the supported set.
func ParseLanguage(s string) (Language, error) {
	l := Language(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, s)
	}
	return l, nil
}

// Template returns the starter snippet used to seed a new room's document.
func Template(l Language) string {
	switch l {
	case Python:
		return "print(\"Hello from Python\")\n"
	case Cpp:
		return "#include <iostream>\nusing namespace std;\nint main(){ cout<<\"Hello from C++\"<<\"\\n\"; return 0; }\n"
	default:
		return "console.log(\"Hello from JavaScript\");\n"
	}
}

// Document is the shared content of a room. Content and Language are always
// replaced together.
type Document struct {
	Content  string   `json:"code"`
	Language Language `json:"language"`
}

// DefaultDocument returns the document a freshly created room starts with.
func DefaultDocument() Document {
	return Document{Content: Template(DefaultLanguage), Language: DefaultLanguage}
}

// Member is one participant of a room, keyed by its connection id.
// Names are not unique.
type Member struct {
	ID   string `json:"-"`
	Name string `json:"name"`
}
