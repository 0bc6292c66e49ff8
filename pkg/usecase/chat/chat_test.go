package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/docent/pkg/agent"
	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/policy"
	"github.com/m-mizutani/docent/pkg/repository"
	"github.com/m-mizutani/docent/pkg/usecase/chat"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

type mockAgent struct {
	histories [][]model.ChatMessage
	fn        func(query string) (*agent.Result, error)
}

func (m *mockAgent) Invoke(ctx context.Context, history []model.ChatMessage, query string) (*agent.Result, error) {
	m.histories = append(m.histories, history)
	if m.fn != nil {
		return m.fn(query)
	}
	return &agent.Result{
		Answer:  "respuesta a " + query,
		Sources: []model.Source{{Kind: model.SourceFile, Value: "a.pdf"}},
		Rounds:  1,
	}, nil
}

type mockPolicy struct {
	decision *policy.AnswerDecision
	err      error
}

func (m *mockPolicy) JudgeAnswer(ctx context.Context, input *policy.AnswerInput) (*policy.AnswerDecision, error) {
	return m.decision, m.err
}

func TestAskCreatesSessionAndRecordsTurn(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory(time.Hour)
	ag := &mockAgent{}
	uc := chat.New(store, ag)

	resp, err := uc.Ask(ctx, &chat.Request{Query: "¿presión máxima?"})
	gt.NoError(t, err)
	gt.NoError(t, resp.SessionID.Validate())
	gt.Equal(t, resp.Answer, "respuesta a ¿presión máxima?")
	gt.Equal(t, resp.Confidence, policy.DefaultConfidence)
	gt.False(t, resp.Escalate)
	gt.A(t, resp.Sources).Length(1)

	gt.A(t, resp.History).Length(2)
	gt.Equal(t, resp.History[0].Role, model.RoleUser)
	gt.Equal(t, resp.History[0].Content, "¿presión máxima?")
	gt.Equal(t, resp.History[1].Role, model.RoleAssistant)

	// the agent sees only the prior conversation
	gt.A(t, ag.histories[0]).Length(0)

	sess, err := store.Get(ctx, resp.SessionID)
	gt.NoError(t, err)
	gt.Equal(t, sess.UserID, model.AnonymousUser)
	gt.A(t, sess.ChatHistory).Length(2)

	second, err := uc.Ask(ctx, &chat.Request{SessionID: resp.SessionID.String(), Query: "¿y la mínima?"})
	gt.NoError(t, err)
	gt.Equal(t, second.SessionID, resp.SessionID)
	gt.A(t, second.History).Length(4)
	gt.A(t, ag.histories[1]).Length(2)
}

func TestAskUnknownOrInvalidSession(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory(time.Hour)
	uc := chat.New(store, &mockAgent{})

	unknown := model.NewSessionID()
	resp, err := uc.Ask(ctx, &chat.Request{SessionID: unknown.String(), Query: "hola"})
	gt.NoError(t, err)
	gt.True(t, resp.SessionID != unknown)

	resp, err = uc.Ask(ctx, &chat.Request{SessionID: "not-a-session", Query: "hola"})
	gt.NoError(t, err)
	gt.NoError(t, resp.SessionID.Validate())
	gt.A(t, resp.History).Length(2)
}

func TestAskEmptyQuery(t *testing.T) {
	uc := chat.New(repository.NewMemory(time.Hour), &mockAgent{})
	_, err := uc.Ask(context.Background(), &chat.Request{Query: "   "})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, chat.ErrEmptyQuery))
}

func TestAskPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("decision is reported", func(t *testing.T) {
		uc := chat.New(repository.NewMemory(time.Hour), &mockAgent{},
			chat.WithPolicy(&mockPolicy{decision: &policy.AnswerDecision{Confidence: 0.4, Escalate: true}}))
		resp, err := uc.Ask(ctx, &chat.Request{Query: "reclamo"})
		gt.NoError(t, err)
		gt.Equal(t, resp.Confidence, 0.4)
		gt.True(t, resp.Escalate)
	})

	t.Run("failure keeps defaults", func(t *testing.T) {
		uc := chat.New(repository.NewMemory(time.Hour), &mockAgent{},
			chat.WithPolicy(&mockPolicy{err: goerr.New("policy broken")}))
		resp, err := uc.Ask(ctx, &chat.Request{Query: "hola"})
		gt.NoError(t, err)
		gt.Equal(t, resp.Confidence, policy.DefaultConfidence)
		gt.False(t, resp.Escalate)
	})
}

func TestAskAgentError(t *testing.T) {
	store := repository.NewMemory(time.Hour)
	ag := &mockAgent{fn: func(string) (*agent.Result, error) {
		return nil, goerr.Wrap(context.Canceled, "agent interrupted")
	}}
	_, err := chat.New(store, ag).Ask(context.Background(), &chat.Request{Query: "hola"})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, context.Canceled))
}

func TestAskHistoryWindow(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory(time.Hour)
	ag := &mockAgent{fn: func(q string) (*agent.Result, error) {
		return &agent.Result{Answer: strings.Repeat("r", 40)}, nil
	}}
	// each exchange is about 20 tokens
	uc := chat.New(store, ag, chat.WithHistoryBudget(45))

	resp, err := uc.Ask(ctx, &chat.Request{Query: strings.Repeat("a", 40)})
	gt.NoError(t, err)
	for range 3 {
		_, err = uc.Ask(ctx, &chat.Request{SessionID: resp.SessionID.String(), Query: strings.Repeat("b", 40)})
		gt.NoError(t, err)
	}

	last := ag.histories[len(ag.histories)-1]
	gt.A(t, last).Length(4)
	gt.Equal(t, last[0].Role, model.RoleUser)
}
