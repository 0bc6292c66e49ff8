package text_test

import (
	"strings"
	"testing"

	"github.com/m-mizutani/docent/pkg/utils/text"
	"github.com/m-mizutani/gt"
)

func TestSanitizeQuery(t *testing.T) {
	gt.Equal(t, text.SanitizeQuery(`  <b>hola</b>   "mundo" & 'tú'  `), "bhola/b mundo tú")
	gt.Equal(t, len([]rune(text.SanitizeQuery(strings.Repeat("a", 3000)))), text.MaxQueryLength)
}

func TestSnippet(t *testing.T) {
	gt.Equal(t, text.Snippet("abcdef", 3), "abc...")
	gt.Equal(t, text.Snippet("abc", 3), "abc")
	gt.Equal(t, text.Snippet("ñañaña", 2), "ña...")
}

func TestApproxTokens(t *testing.T) {
	gt.Equal(t, text.ApproxTokens(""), 0)
	gt.Equal(t, text.ApproxTokens("abcd"), 1)
	gt.Equal(t, text.ApproxTokens("abcde"), 2)
}

func TestKeywords(t *testing.T) {
	kw := text.Keywords("¿Cuál es la garantía del Producto Z-100? La garantía...")
	gt.A(t, kw).Length(4)
	gt.Equal(t, kw[0], "cuál")
	gt.Equal(t, kw[1], "garantía")
	gt.Equal(t, kw[2], "producto")
	gt.Equal(t, kw[3], "100")
}

func TestFold(t *testing.T) {
	gt.Equal(t, text.Fold("Misión y Visión"), "mision y vision")
}
