// Package policy evaluates operator supplied Rego rules. The ingest rule
// decides which source documents are indexed; the answer rule grades chat
// answers.
package policy

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// DefaultConfidence is reported when no answer rule sets one
const DefaultConfidence = 1.0

type printHook struct {
	logger *slog.Logger
}

func (h *printHook) Print(_ print.Context, message string) error {
	h.logger.Debug("rego print", "message", message)
	return nil
}

type Engine struct {
	ingest *rego.PreparedEvalQuery
	answer *rego.PreparedEvalQuery
}

// New loads the policies in dir. An empty dir yields an engine that allows
// everything.
func New(ctx context.Context, dir string) (*Engine, error) {
	if dir == "" {
		return &Engine{}, nil
	}
	ingest, answer, err := loadPolicies(ctx, dir)
	if err != nil {
		return nil, err
	}
	return &Engine{ingest: ingest, answer: answer}, nil
}

// IngestInput describes a source document before enrichment
type IngestInput struct {
	Name string `json:"name"`
	File string `json:"file"`
	Size int    `json:"size"`
	Hash string `json:"hash"`
}

func NewIngestInput(blob *model.BlobToProcess) *IngestInput {
	return &IngestInput{
		Name: blob.Name,
		File: blob.FileName(),
		Size: len(blob.Content),
		Hash: blob.Hash,
	}
}

// AnswerInput describes one chat answer
type AnswerInput struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer"`
	Sources []model.Source `json:"sources"`
	Rounds  int            `json:"rounds"`
}

type AnswerDecision struct {
	Confidence float64
	Escalate   bool
}

func (e *Engine) eval(ctx context.Context, q *rego.PreparedEvalQuery, input any) (map[string]any, error) {
	if q == nil {
		return nil, nil
	}

	// rego sees the JSON form of the input
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode policy input")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode policy input")
	}

	hook := &printHook{logger: logging.From(ctx)}
	rs, err := q.Eval(ctx, rego.EvalInput(doc), rego.EvalPrintHook(hook))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("policy result is not an object",
			goerr.V("value", rs[0].Expressions[0].Value))
	}
	return data, nil
}

// AllowIngest reports whether the document may be indexed. A missing rule
// allows it.
func (e *Engine) AllowIngest(ctx context.Context, input *IngestInput) (bool, error) {
	data, err := e.eval(ctx, e.ingest, input)
	if err != nil {
		return false, goerr.Wrap(err, "ingest policy failed", goerr.V("name", input.Name))
	}
	v, ok := data["allow"]
	if !ok {
		return true, nil
	}
	allow, ok := v.(bool)
	if !ok {
		return false, goerr.New("ingest allow is not a boolean", goerr.V("value", v))
	}
	return allow, nil
}

// JudgeAnswer grades an answer. Without a rule the answer is fully
// trusted and never escalated.
func (e *Engine) JudgeAnswer(ctx context.Context, input *AnswerInput) (*AnswerDecision, error) {
	decision := &AnswerDecision{Confidence: DefaultConfidence}

	data, err := e.eval(ctx, e.answer, input)
	if err != nil {
		return nil, goerr.Wrap(err, "answer policy failed")
	}

	if v, ok := data["confidence"]; ok {
		c, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		decision.Confidence = c
	}
	if v, ok := data["escalate"]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, goerr.New("answer escalate is not a boolean", goerr.V("value", v))
		}
		decision.Escalate = b
	}
	return decision, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, goerr.Wrap(err, "invalid confidence", goerr.V("value", v))
		}
		return f, nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, goerr.New("answer confidence is not a number", goerr.V("value", v))
}
