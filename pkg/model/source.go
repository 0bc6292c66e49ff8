package model

import "encoding/json"

type SourceKind string

const (
	SourceFile   SourceKind = "source_file"
	SourceDomain SourceKind = "source_domain"
	SourceURL    SourceKind = "source_url"
)

// Source is a citation extracted from retrieval tool output
type Source struct {
	Kind  SourceKind
	Value string
}

// MarshalJSON renders a source as a single-key object, e.g. {"source_file": "a.pdf"}
func (x Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{string(x.Kind): x.Value})
}

// BasicSource is a citation of the one-shot RAG answer
type BasicSource struct {
	SourceFile string  `json:"source_file"`
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score"`
}
