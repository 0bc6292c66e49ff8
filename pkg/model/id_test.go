package model_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/gt"
)

func TestDocumentIDIsDeterministic(t *testing.T) {
	a := model.DocumentID("catalogs/Widget.pdf")
	b := model.DocumentID("/catalogs/widget.pdf/")
	gt.Equal(t, a, b)
	gt.Equal(t, len(a), 40)
	gt.NoError(t, model.ValidateDocumentID(a))

	c := model.DocumentID("catalogs/gadget.pdf")
	gt.NotEqual(t, a, c)
}

func TestDeterministicIDAlphabet(t *testing.T) {
	id := model.DeterministicID("anything")
	for _, r := range id {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
		gt.True(t, ok)
	}
}

func TestChunkAndImageIDs(t *testing.T) {
	doc := model.DocumentID("a.pdf")
	gt.Equal(t, model.ChunkID("a.pdf", 1), model.DocumentID("a.pdf_chunk_1"))
	gt.NotEqual(t, model.ChunkID("a.pdf", 1), model.ChunkID("a.pdf", 2))

	img := model.ImageID(doc, 1)
	gt.Equal(t, img, model.DeterministicID(doc+"_img_001"))
	gt.NoError(t, model.ValidateImageID(img))
}

func TestValidateIDs(t *testing.T) {
	gt.True(t, errors.Is(model.ValidateDocumentID("short"), model.ErrInvalidDocumentID))
	gt.True(t, errors.Is(model.ValidateDocumentID("has space in it"), model.ErrInvalidDocumentID))
	gt.True(t, errors.Is(model.ValidateImageID("abc"), model.ErrInvalidImageID))
}

func TestContentHash(t *testing.T) {
	gt.Equal(t, model.ContentHash([]byte("")), "d41d8cd98f00b204e9800998ecf8427e")
	gt.Equal(t, model.ContentHash([]byte("abc")), model.ContentHash([]byte("abc")))
}

func TestTraceID(t *testing.T) {
	id := model.TraceID("sess_x", 3)
	gt.Equal(t, id, model.DeterministicID("sess_x_interaction_0003"))
	gt.Equal(t, len(id), 40)
	gt.NotEqual(t, id, model.TraceID("sess_x", 4))
	gt.False(t, strings.Contains(id, "sess_x"))
}
