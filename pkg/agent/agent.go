// Package agent runs the tool-calling conversation loop. The model either
// answers or asks for retrieval tools; tool outputs are fed back until it
// answers or the round limit forces a final answer.
package agent

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/service/llm"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"
)

const (
	InternalErrorMessage = "Ocurrió un error interno."

	DefaultMaxRounds = 8
)

//go:embed prompt/system.md
var systemPromptRaw string

var systemPromptTmpl = template.Must(template.New("system").Parse(systemPromptRaw))

// Generator is the model endpoint. llm.Gateway satisfies it.
type Generator interface {
	Generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Executor is the tool set. tool.Registry satisfies it.
type Executor interface {
	Specs() []*genai.Tool
	Prompts(ctx context.Context) string
	Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error)
}

type state int

const (
	stateAgent state = iota
	stateTools
	stateEnd
)

type Agent struct {
	llm       Generator
	tools     Executor
	maxRounds int
	system    string
}

type Option func(*Agent)

// WithMaxRounds caps the number of tool rounds per invocation
func WithMaxRounds(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxRounds = n
		}
	}
}

// WithSystemPrompt replaces the embedded system prompt
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		a.system = prompt
	}
}

func New(gen Generator, tools Executor, opts ...Option) *Agent {
	a := &Agent{
		llm:       gen,
		tools:     tools,
		maxRounds: DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Result is the answer of one invocation. Sources come from the last tool
// round only.
type Result struct {
	Answer  string
	Sources []model.Source
	Rounds  int
}

func (a *Agent) systemPrompt(ctx context.Context) (string, error) {
	if a.system != "" {
		return a.system, nil
	}
	var toolPrompts string
	if a.tools != nil {
		toolPrompts = a.tools.Prompts(ctx)
	}
	var buf bytes.Buffer
	if err := systemPromptTmpl.Execute(&buf, map[string]any{
		"ToolPrompts": toolPrompts,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute system prompt template")
	}
	return buf.String(), nil
}

// historyContents maps stored chat messages to model contents. System
// messages are dropped; the system prompt is added per invocation.
func historyContents(history []model.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		switch msg.Role {
		case model.RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case model.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}
	return contents
}

// Invoke answers query in the context of history. Model and tool failures
// never surface as errors; only a cancelled context does.
func (a *Agent) Invoke(ctx context.Context, history []model.ChatMessage, query string) (*Result, error) {
	logger := logging.From(ctx)

	system, err := a.systemPrompt(ctx)
	if err != nil {
		return nil, err
	}

	contents := append(historyContents(history), genai.NewContentFromText(query, genai.RoleUser))
	result := &Result{Sources: []model.Source{}}

	var pending []*genai.FunctionCall
	current := stateAgent
	for current != stateEnd {
		if err := ctx.Err(); err != nil {
			return nil, goerr.Wrap(err, "agent interrupted")
		}

		switch current {
		case stateAgent:
			withTools := a.tools != nil && result.Rounds < a.maxRounds
			resp, err := a.llm.Generate(ctx, contents, a.config(system, result.Rounds < a.maxRounds))
			if err != nil {
				if ctx.Err() != nil {
					return nil, goerr.Wrap(ctx.Err(), "agent interrupted")
				}
				logger.Error("agent model call failed", "round", result.Rounds, logging.ErrAttr(err))
				result.Answer = InternalErrorMessage
				current = stateEnd
				continue
			}

			reply := firstContent(resp)
			if reply != nil {
				contents = append(contents, reply)
			}
			pending = functionCalls(reply)

			if len(pending) > 0 && withTools {
				current = stateTools
				continue
			}

			result.Answer = strings.TrimSpace(llm.ResponseText(resp))
			if result.Answer == "" {
				result.Answer = llm.EmptyResponseMessage
			}
			if result.Rounds >= a.maxRounds {
				logger.Warn("tool round limit reached, forced final answer", "rounds", result.Rounds)
			}
			current = stateEnd

		case stateTools:
			result.Rounds++
			outputs, parts := a.runTools(ctx, pending)
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: parts,
			})
			result.Sources = ExtractSources(outputs)
			pending = nil
			current = stateAgent
		}
	}

	return result, nil
}

// config declares the tools whenever there are any. Once calls are no longer
// allowed the declarations stay, since the history holds function parts, and
// calling is switched off instead.
func (a *Agent) config(system string, allowCalls bool) *genai.GenerateContentConfig {
	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, ""),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}
	if a.tools == nil {
		return config
	}
	config.Tools = a.tools.Specs()
	if !allowCalls {
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeNone,
			},
		}
	}
	return config
}

// runTools executes every call concurrently. Outputs and response parts are
// returned in call order; a failing call becomes an error message for that
// call only.
func (a *Agent) runTools(ctx context.Context, calls []*genai.FunctionCall) ([]string, []*genai.Part) {
	outputs := make([]string, len(calls))
	parts := make([]*genai.Part, len(calls))

	var eg errgroup.Group
	for i, fc := range calls {
		eg.Go(func() error {
			text := a.runTool(ctx, *fc)
			outputs[i] = text
			parts[i] = &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       fc.ID,
				Name:     fc.Name,
				Response: map[string]any{"result": text},
			}}
			return nil
		})
	}
	_ = eg.Wait()

	return outputs, parts
}

func (a *Agent) runTool(ctx context.Context, fc genai.FunctionCall) string {
	logger := logging.From(ctx)
	failed := "Error al ejecutar la herramienta " + fc.Name + "."

	resp, err := a.tools.Execute(ctx, fc)
	if err != nil {
		logger.Error("tool execution failed", "tool", fc.Name, logging.ErrAttr(err))
		return failed
	}
	if resp == nil {
		return ""
	}

	if text, ok := resp.Response["result"].(string); ok {
		return text
	}
	raw, err := json.Marshal(resp.Response)
	if err != nil {
		logger.Error("failed to encode tool response", "tool", fc.Name, logging.ErrAttr(err))
		return failed
	}
	return string(raw)
}

func firstContent(resp *genai.GenerateContentResponse) *genai.Content {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	return resp.Candidates[0].Content
}

func functionCalls(content *genai.Content) []*genai.FunctionCall {
	if content == nil {
		return nil
	}
	var calls []*genai.FunctionCall
	for _, part := range content.Parts {
		if part != nil && part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall)
		}
	}
	return calls
}
