package agent

import (
	"regexp"
	"strings"

	"github.com/m-mizutani/docent/pkg/model"
)

var (
	fileMarker   = regexp.MustCompile(`\*\*Archivo:\*\*\s*(.+)`)
	domainMarker = regexp.MustCompile(`\*\*Fuente:\*\*\s*(.+)`)
	urlMarkdown  = regexp.MustCompile(`\*\*URL:\*\*\s*\[[^\]]*\]\((https?://[^\s)]+)\)`)
	urlPlain     = regexp.MustCompile(`\*\*URL:\*\*\s*(https?://\S+)`)
)

// orderedSet keeps the first occurrence of each value
type orderedSet struct {
	seen   map[string]struct{}
	values []string
}

func (x *orderedSet) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if x.seen == nil {
		x.seen = map[string]struct{}{}
	}
	if _, ok := x.seen[v]; ok {
		return
	}
	x.seen[v] = struct{}{}
	x.values = append(x.values, v)
}

// ExtractSources collects citation markers from tool outputs. Files come
// first, then domains, then URLs, each deduplicated in first-seen order.
func ExtractSources(outputs []string) []model.Source {
	var files, domains, urls orderedSet
	for _, text := range outputs {
		for _, m := range fileMarker.FindAllStringSubmatch(text, -1) {
			files.add(m[1])
		}
		for _, m := range domainMarker.FindAllStringSubmatch(text, -1) {
			domains.add(m[1])
		}
		for _, m := range urlMarkdown.FindAllStringSubmatch(text, -1) {
			urls.add(m[1])
		}
		for _, m := range urlPlain.FindAllStringSubmatch(text, -1) {
			urls.add(m[1])
		}
	}

	sources := make([]model.Source, 0, len(files.values)+len(domains.values)+len(urls.values))
	for _, v := range files.values {
		sources = append(sources, model.Source{Kind: model.SourceFile, Value: v})
	}
	for _, v := range domains.values {
		sources = append(sources, model.Source{Kind: model.SourceDomain, Value: v})
	}
	for _, v := range urls.values {
		sources = append(sources, model.Source{Kind: model.SourceURL, Value: v})
	}
	return sources
}
