package model_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/gt"
)

func TestNewSessionID(t *testing.T) {
	id := model.NewSessionID()
	gt.True(t, strings.HasPrefix(id.String(), "sess_"))
	gt.Equal(t, len(id), len("sess_")+32)
	gt.NoError(t, id.Validate())
	gt.NotEqual(t, id, model.NewSessionID())
}

func TestSessionIDValidate(t *testing.T) {
	for _, id := range []string{
		"",
		"not-a-valid-id",
		"sess_0123456789ABCDEF0123456789abcdef",
		"sess_0123456789abcdef0123456789abcde",
		"xess_0123456789abcdef0123456789abcdef",
	} {
		t.Run(id, func(t *testing.T) {
			err := model.SessionID(id).Validate()
			gt.True(t, errors.Is(err, model.ErrInvalidSessionID))
		})
	}
}

func TestNewSession(t *testing.T) {
	s := model.NewSession("")
	gt.Equal(t, s.UserID, model.AnonymousUser)
	gt.Equal(t, s.Status, model.SessionActive)
	gt.A(t, s.ChatHistory).Length(0)

	c := s.Clone()
	c.ChatHistory = append(c.ChatHistory, *model.NewChatMessage(model.RoleUser, "hi"))
	gt.A(t, s.ChatHistory).Length(0)
}

func TestSourceJSON(t *testing.T) {
	raw, err := json.Marshal(model.Source{Kind: model.SourceFile, Value: "a.pdf"})
	gt.NoError(t, err)
	gt.Equal(t, string(raw), `{"source_file":"a.pdf"}`)
}
