package enrich_test

import (
	"strings"
	"testing"

	"github.com/m-mizutani/docent/pkg/usecase/enrich"
	"github.com/m-mizutani/gt"
)

func TestChunkerSplit(t *testing.T) {
	t.Run("empty text", func(t *testing.T) {
		gt.A(t, enrich.NewChunker(100, 0).Split("  \n\t ")).Length(0)
	})

	t.Run("short text is one chunk", func(t *testing.T) {
		chunks := enrich.NewChunker(100, 1).Split("Bomba centrífuga.\n\n  Acero   inoxidable.")
		gt.A(t, chunks).Length(1)
		gt.Equal(t, chunks[0], "Bomba centrífuga. Acero inoxidable.")
	})

	t.Run("unterminated tail is kept", func(t *testing.T) {
		chunks := enrich.NewChunker(100, 0).Split("Primera frase. sin punto final")
		gt.A(t, chunks).Length(1)
		gt.Equal(t, chunks[0], "Primera frase. sin punto final")
	})

	t.Run("chunks respect size and overlap", func(t *testing.T) {
		text := "Uno dos tres. Cuatro cinco seis. Siete ocho nueve. Diez once doce."
		chunks := enrich.NewChunker(40, 1).Split(text)
		gt.A(t, chunks).Length(3)
		gt.Equal(t, chunks[0], "Uno dos tres. Cuatro cinco seis.")
		gt.Equal(t, chunks[1], "Cuatro cinco seis. Siete ocho nueve.")
		gt.Equal(t, chunks[2], "Siete ocho nueve. Diez once doce.")
		for _, c := range chunks {
			gt.True(t, len([]rune(c)) <= 40)
		}
	})

	t.Run("long sentence is cut", func(t *testing.T) {
		chunks := enrich.NewChunker(10, 0).Split(strings.Repeat("a", 25))
		gt.A(t, chunks).Length(3)
		gt.Equal(t, chunks[2], "aaaaa")
	})
}
