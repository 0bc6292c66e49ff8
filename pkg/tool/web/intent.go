package web

import (
	"sort"
	"strings"

	"github.com/m-mizutani/docent/pkg/model"
)

// intent is one family of institutional questions. Triggers detect it in the
// user query, Expansions are appended to the search text, Keywords and
// Titles drive the re-ranking and Source is the page group expected to
// answer it.
type intent struct {
	Name          string
	Triggers      []string
	Expansions    []string
	Keywords      []string
	Titles        []string
	Source        string
	Institutional bool
}

const aboutSource = "sobre_ajover"

var intents = []intent{
	{
		Name:          "mision",
		Triggers:      []string{"mision", "misión", "proposito", "propósito", "razon de ser", "razón de ser"},
		Expansions:    []string{"mision", "misión", "proposito", "propósito", "razón de ser"},
		Keywords:      []string{"mision", "misión", "proposito", "propósito", "razón de ser"},
		Titles:        []string{"misión", "mision"},
		Source:        aboutSource,
		Institutional: true,
	},
	{
		Name:          "vision",
		Triggers:      []string{"vision", "visión", "futuro"},
		Expansions:    []string{"vision", "visión", "futuro"},
		Keywords:      []string{"vision", "visión", "futuro"},
		Titles:        []string{"visión", "vision"},
		Source:        aboutSource,
		Institutional: true,
	},
	{
		Name:          "valores",
		Triggers:      []string{"valor", "valores", "principios"},
		Expansions:    []string{"valores", "principios"},
		Keywords:      []string{"valores", "principios"},
		Titles:        []string{"valores"},
		Source:        aboutSource,
		Institutional: true,
	},
	{
		Name:          "about",
		Triggers:      []string{"quien es", "quién es", "quienes somos", "quiénes somos", "sobre ajover", "sobre nosotros", "acerca de"},
		Expansions:    []string{"quiénes somos", "sobre ajover", "sobre nosotros", "acerca de"},
		Keywords:      []string{"quiénes somos", "quienes somos", "sobre ajover", "sobre nosotros", "acerca de"},
		Source:        aboutSource,
		Institutional: true,
	},
	{
		Name:          "contacto",
		Triggers:      []string{"contacto", "tel", "teléfono", "telefono", "número", "numero", "whatsapp", "correo", "email"},
		Expansions:    []string{"contacto", "teléfono", "número", "correo"},
		Keywords:      []string{"contacto", "teléfono", "telefono", "número", "numero", "correo", "email", "whatsapp"},
		Source:        "contacto",
		Institutional: true,
	},
	{
		Name:       "proyectos",
		Triggers:   []string{"proyecto", "proyectos", "casos de éxito"},
		Expansions: []string{"proyectos", "casos de éxito"},
		Keywords:   []string{"proyecto", "proyectos", "casos de éxito"},
		Source:     "proyectos",
	},
	{
		Name:       "sostenibilidad",
		Triggers:   []string{"sostenible", "sostenibilidad", "ambiental", "cccs"},
		Expansions: []string{"sostenibilidad", "ambiental", "CCCS"},
		Keywords:   []string{"sostenibilidad", "ambiental", "cccs"},
		Source:     "sostenibilidad",
	},
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// detectIntents returns the intents triggered by query, in table order
func detectIntents(query string) []intent {
	q := strings.ToLower(query)
	var out []intent
	for _, in := range intents {
		if containsAny(q, in.Triggers) {
			out = append(out, in)
		}
	}
	return out
}

// expandQuery appends the sorted, deduplicated expansions of every
// triggered intent. A query without intents is returned unchanged.
func expandQuery(query string, found []intent) string {
	set := map[string]struct{}{}
	for _, in := range found {
		for _, e := range in.Expansions {
			set[e] = struct{}{}
		}
	}
	if len(set) == 0 {
		return query
	}

	terms := make([]string, 0, len(set))
	for e := range set {
		terms = append(terms, e)
	}
	sort.Strings(terms)
	return query + " " + strings.Join(terms, " ")
}

func institutional(found []intent) bool {
	for _, in := range found {
		if in.Institutional {
			return true
		}
	}
	return false
}

func score(doc *model.Document, found []intent) float64 {
	title := strings.ToLower(doc.Title)
	content := strings.ToLower(doc.Content)
	source := strings.ToLower(doc.Source)
	trimmedTitle := strings.TrimSpace(title)

	var s float64
	for _, in := range found {
		for _, k := range in.Keywords {
			if strings.Contains(title, k) {
				s += 10
			}
			if strings.Contains(content, k) {
				s += 3
			}
		}
		for _, t := range in.Titles {
			if trimmedTitle == t {
				s += 20
				break
			}
		}
		if in.Source != "" && source == in.Source {
			s += 12
		}
	}
	return s
}

// rerank orders docs by intent score. When nothing scores the backend order
// is kept.
func rerank(docs []*model.Document, found []intent) []*model.Document {
	scores := make([]float64, len(docs))
	scored := false
	for i, doc := range docs {
		scores[i] = score(doc, found)
		if scores[i] > 0 {
			scored = true
		}
	}
	if !scored {
		return docs
	}

	idx := make([]int, len(docs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	out := make([]*model.Document, len(docs))
	for i, j := range idx {
		out[i] = docs[j]
	}
	return out
}
