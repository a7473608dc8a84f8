package embedder

import "strings"

// Lemmatize normalizes a slot name so that inflected variants of the same
// concept land on the same canonical string. Names are underscore-joined
// words; each word is lemmatized independently to avoid context-sensitive
// part-of-speech shifts.
func Lemmatize(name string) string {
	words := strings.Split(strings.ToLower(strings.TrimSpace(name)), "_")
	for i, w := range words {
		words[i] = lemmatizeWord(w)
	}
	return strings.Join(words, "_")
}

// Irregular forms the suffix rules below would mangle.
var irregularLemmas = map[string]string{
	"feet":     "foot",
	"teeth":    "tooth",
	"children": "child",
	"people":   "person",
	"men":      "man",
	"women":    "woman",
	"mice":     "mouse",
	"geese":    "goose",
	"lives":    "life",
	"leaves":   "leaf",
	"selves":   "self",
	"better":   "good",
	"best":     "good",
	"worse":    "bad",
	"worst":    "bad",
	"felt":     "feel",
	"was":      "be",
	"were":     "be",
	"is":       "be",
	"are":      "be",
	"been":     "be",
	"being":    "be",
	"has":      "have",
	"had":      "have",
	"having":   "have",
	"does":     "do",
	"did":      "do",
	"done":     "do",
	"made":     "make",
	"bought":   "buy",
	"thought":  "think",
	"chose":    "choose",
	"chosen":   "choose",
}

// Words that look inflected but are not.
var lemmaExceptions = map[string]bool{
	"wellness":   true,
	"fitness":    true,
	"business":   true,
	"series":     true,
	"species":    true,
	"analysis":   true,
	"basis":      true,
	"status":     true,
	"bonus":      true,
	"focus":      true,
	"bias":       true,
	"gas":        true,
	"less":       true,
	"stress":     true,
	"process":    true,
	"success":    true,
	"class":      true,
	"loss":       true,
	"access":     true,
	"awareness":  true,
	"this":       true,
	"trellis":    true,
	"feeling":    true,
	"morning":    true,
	"evening":    true,
	"thing":      true,
	"wellbeing":  true,
	"belonging":  true,
	"meaning":    true,
	"spring":     true,
	"string":     true,
	"red":        true,
	"bed":        true,
	"need":       true,
	"speed":      true,
	"seed":       true,
	"breed":      true,
	"bored":      true,
	"tired":      true,
	"sacred":     true,
	"hundred":    true,
	"yes":        true,
	"goes":       true,
	"shoes":      true,
	"clothes":    true,
	"sometimes":  true,
	"ring":       true,
	"king":       true,
	"wing":       true,
	"sing":       true,
	"bring":      true,
	"during":     true,
}

func lemmatizeWord(w string) string {
	if w == "" {
		return w
	}
	if lemma, ok := irregularLemmas[w]; ok {
		return lemma
	}
	if lemmaExceptions[w] {
		return w
	}

	// Plural and third-person forms.
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "sses"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "xes"), strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"), strings.HasSuffix(w, "zes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us") && !strings.HasSuffix(w, "is") && len(w) > 3:
		return w[:len(w)-1]
	}

	// Progressive forms.
	if strings.HasSuffix(w, "ing") && len(w) > 5 {
		stem := w[:len(w)-3]
		if len(stem) > 2 && stem[len(stem)-1] == stem[len(stem)-2] && isConsonant(stem[len(stem)-1]) {
			return stem[:len(stem)-1] // running -> run
		}
		if endsConsonantVowelConsonant(stem) || strings.HasSuffix(stem, "iz") || strings.HasSuffix(stem, "at") || strings.HasSuffix(stem, "ur") || strings.HasSuffix(stem, "ar") {
			return stem + "e" // energizing -> energize, caring -> care
		}
		return stem
	}

	// Past forms.
	if strings.HasSuffix(w, "ied") && len(w) > 4 {
		return w[:len(w)-3] + "y"
	}
	if strings.HasSuffix(w, "ed") && len(w) > 4 {
		stem := w[:len(w)-2]
		if len(stem) > 2 && stem[len(stem)-1] == stem[len(stem)-2] && isConsonant(stem[len(stem)-1]) {
			return stem[:len(stem)-1] // stopped -> stop
		}
		if strings.HasSuffix(stem, "iz") || strings.HasSuffix(stem, "at") || strings.HasSuffix(stem, "ur") || strings.HasSuffix(stem, "uc") || endsConsonantVowelConsonant(stem) {
			return stem + "e" // energized -> energize
		}
		return stem
	}

	return w
}

func isConsonant(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return false
	}
	return c >= 'a' && c <= 'z'
}

func endsConsonantVowelConsonant(s string) bool {
	if len(s) < 3 {
		return false
	}
	a, b, c := s[len(s)-3], s[len(s)-2], s[len(s)-1]
	return isConsonant(a) && !isConsonant(b) && isConsonant(c) && c != 'w' && c != 'x' && c != 'y'
}
