// Package chat runs one conversational turn: it resolves the session,
// records the exchange and asks the agent for the answer.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/docent/pkg/agent"
	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/policy"
	"github.com/m-mizutani/docent/pkg/repository"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

var ErrEmptyQuery = goerr.New("query must not be empty")

// Agent answers a question given the prior conversation. agent.Agent
// satisfies it.
type Agent interface {
	Invoke(ctx context.Context, history []model.ChatMessage, query string) (*agent.Result, error)
}

// AnswerPolicy grades answers. policy.Engine satisfies it.
type AnswerPolicy interface {
	JudgeAnswer(ctx context.Context, input *policy.AnswerInput) (*policy.AnswerDecision, error)
}

type UseCase struct {
	sessions      repository.SessionStore
	agent         Agent
	policy        AnswerPolicy
	historyBudget int
}

type Option func(*UseCase)

func WithPolicy(p AnswerPolicy) Option {
	return func(uc *UseCase) {
		uc.policy = p
	}
}

// WithHistoryBudget limits the approximate tokens of prior conversation
// given to the agent. Zero or less passes the whole history.
func WithHistoryBudget(tokens int) Option {
	return func(uc *UseCase) {
		uc.historyBudget = tokens
	}
}

func New(sessions repository.SessionStore, agent Agent, opts ...Option) *UseCase {
	uc := &UseCase{
		sessions:      sessions,
		agent:         agent,
		historyBudget: DefaultHistoryBudget,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

type Request struct {
	SessionID string
	Query     string
}

type Response struct {
	Answer     string              `json:"response"`
	SessionID  model.SessionID     `json:"session_id"`
	History    []model.ChatMessage `json:"full_chat_history"`
	Sources    []model.Source      `json:"sources"`
	Confidence float64             `json:"confidence_score"`
	Escalate   bool                `json:"escalation_recommended"`
	Timestamp  time.Time           `json:"timestamp"`
}

// session returns the requested session, or a new anonymous one when the
// id is empty, malformed or unknown
func (uc *UseCase) session(ctx context.Context, rawID string) (*model.Session, error) {
	logger := logging.From(ctx)

	if rawID != "" {
		id := model.SessionID(rawID)
		if err := id.Validate(); err != nil {
			logger.Warn("malformed session id, starting a new session", "session_id", rawID)
		} else {
			sess, err := uc.sessions.Get(ctx, id)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to load session")
			}
			if sess != nil {
				return sess, nil
			}
			logger.Info("unknown session, starting a new session", "session_id", rawID)
		}
	}

	sess, err := uc.sessions.Create(ctx, model.AnonymousUser)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create session")
	}
	logger.Info("session created", "session_id", sess.ID)
	return sess, nil
}

// Ask records the question, answers it and records the answer. Only
// storage failures and cancellation are returned as errors.
func (uc *UseCase) Ask(ctx context.Context, req *Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, goerr.Wrap(ErrEmptyQuery, "rejected chat request")
	}

	sess, err := uc.session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	logger := logging.From(ctx).With("session_id", sess.ID)
	ctx = logging.With(ctx, logger)

	history := recentHistory(sess.ChatHistory, uc.historyBudget)

	if _, err := uc.sessions.AddMessage(ctx, sess.ID, model.NewChatMessage(model.RoleUser, query)); err != nil {
		return nil, goerr.Wrap(err, "failed to record question")
	}

	result, err := uc.agent.Invoke(ctx, history, query)
	if err != nil {
		return nil, goerr.Wrap(err, "agent invocation failed")
	}

	updated, err := uc.sessions.AddMessage(ctx, sess.ID, model.NewChatMessage(model.RoleAssistant, result.Answer))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to record answer")
	}

	resp := &Response{
		Answer:     result.Answer,
		SessionID:  sess.ID,
		History:    updated.ChatHistory,
		Sources:    result.Sources,
		Confidence: policy.DefaultConfidence,
		Timestamp:  time.Now().UTC(),
	}

	if uc.policy != nil {
		decision, err := uc.policy.JudgeAnswer(ctx, &policy.AnswerInput{
			Query:   query,
			Answer:  result.Answer,
			Sources: result.Sources,
			Rounds:  result.Rounds,
		})
		if err != nil {
			logger.Warn("answer policy failed, keeping defaults", logging.ErrAttr(err))
		} else {
			resp.Confidence = decision.Confidence
			resp.Escalate = decision.Escalate
		}
	}

	logger.Info("chat turn completed",
		"sources", len(resp.Sources),
		"rounds", result.Rounds,
		"escalate", resp.Escalate)
	return resp, nil
}
