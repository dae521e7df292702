package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/agentfactory/pkg/agent"
	"github.com/harun/agentfactory/pkg/coretools"
	"github.com/harun/agentfactory/pkg/task"
)

// OfflineScript returns a scripted model that plays every role in specs by
// the rules of its prompt, so a full cycle runs without a model API
func OfflineScript(specs []AgentSpec) agent.ScriptFunc {
	return func(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		spec, ok := specForPrompt(specs, req.SystemPrompt)
		if !ok {
			return reply(req, "Acknowledged."), nil
		}

		turn := currentTurn(req.Messages)
		switch spec.Role {
		case RoleSupervisor:
			return supervisorStep(req, turn, specs), nil
		case RoleWorker:
			return workerStep(req, turn, spec), nil
		case RoleTester:
			return testerStep(req, turn, spec), nil
		}
		return reply(req, "Acknowledged."), nil
	}
}

func specForPrompt(specs []AgentSpec, systemPrompt string) (AgentSpec, bool) {
	for _, s := range specs {
		if s.Prompt != "" && strings.Contains(systemPrompt, s.Prompt) {
			return s, true
		}
	}
	return AgentSpec{}, false
}

// scriptTurn is the part of a conversation after the last user message
type scriptTurn struct {
	prompt  string
	calls   map[string]agent.ToolCall
	results []toolOutcome
	last    []string
}

type toolOutcome struct {
	call   agent.ToolCall
	output string
}

func currentTurn(msgs []agent.Message) scriptTurn {
	start := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == agent.RoleUser {
			start = i
			break
		}
	}

	t := scriptTurn{calls: make(map[string]agent.ToolCall)}
	if start < len(msgs) {
		t.prompt = msgs[start].Content
	}
	for _, m := range msgs[start:] {
		switch m.Role {
		case agent.RoleAssistant:
			t.last = t.last[:0]
			for _, tc := range m.ToolCalls {
				t.calls[tc.ID] = tc
				t.last = append(t.last, tc.Name)
			}
		case agent.RoleTool:
			t.results = append(t.results, toolOutcome{call: t.calls[m.ToolCallID], output: m.Content})
		}
	}
	return t
}

func (t scriptTurn) lastTool() string {
	if len(t.last) == 0 {
		return ""
	}
	return t.last[0]
}

func (t scriptTurn) outputs(tool string) []string {
	var out []string
	for _, r := range t.results {
		if r.call.Name == tool {
			out = append(out, r.output)
		}
	}
	return out
}

func supervisorStep(req agent.LLMRequest, turn scriptTurn, specs []AgentSpec) *agent.LLMResponse {
	switch turn.lastTool() {
	case "":
		if requirement, ok := strings.CutPrefix(turn.prompt, assignPrompt("")); ok {
			var calls []agent.ToolCall
			for _, s := range specs {
				if s.Role != RoleWorker {
					continue
				}
				calls = append(calls, toolCall(req, len(calls), coretools.ToolCreateTask, map[string]interface{}{
					"type":        string(s.TaskType),
					"description": fmt.Sprintf("%s work for: %s", s.TaskType, oneLine(requirement, 80)),
				}))
			}
			return act(req, "Breaking the requirement into tasks.", calls...)
		}
		return act(req, "Checking task status.", toolCall(req, 0, coretools.ToolGetTaskStatus, map[string]interface{}{}))

	case coretools.ToolCreateTask:
		return reply(req, fmt.Sprintf("Created %d task(s) for the workers.", len(turn.last)))

	case coretools.ToolGetTaskStatus:
		outs := turn.outputs(coretools.ToolGetTaskStatus)
		var status task.StatusReport
		if len(outs) > 0 {
			_ = json.Unmarshal([]byte(outs[len(outs)-1]), &status)
		}
		if status.Pending == 0 && status.InProgress == 0 && status.Completed > 0 && !testTaskCreated(req.Messages) {
			return act(req, "All build tasks are done, creating the test task.",
				toolCall(req, 0, coretools.ToolCreateTask, map[string]interface{}{
					"type":        string(task.TypeTest),
					"description": "Run unit, integration and e2e tests over the delivered work",
				}))
		}
		return reply(req, fmt.Sprintf("Status: %d pending, %d in progress, %d completed, %d failed.",
			status.Pending, status.InProgress, status.Completed, status.Failed))
	}
	return reply(req, "Done.")
}

func testTaskCreated(msgs []agent.Message) bool {
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			if tc.Name == coretools.ToolCreateTask && tc.Parameters["type"] == string(task.TypeTest) {
				return true
			}
		}
	}
	return false
}

func workerStep(req agent.LLMRequest, turn scriptTurn, spec AgentSpec) *agent.LLMResponse {
	switch turn.lastTool() {
	case "":
		return act(req, "Looking for a task.", toolCall(req, 0, coretools.ToolClaimTask, map[string]interface{}{
			"worker_id":      spec.ID,
			"preferred_type": string(spec.TaskType),
		}))

	case coretools.ToolClaimTask:
		claimed := claimedTask(turn)
		if claimed == nil {
			return reply(req, fmt.Sprintf("No %s task available.", spec.TaskType))
		}
		path := artifactPath(claimed)
		return act(req, "Writing the code for "+claimed.ID+".", toolCall(req, 0, coretools.ToolWriteCode, map[string]interface{}{
			"file_path":   path,
			"code":        artifactCode(claimed),
			"description": claimed.Description,
		}))

	case coretools.ToolWriteCode:
		claimed := claimedTask(turn)
		if claimed == nil {
			return reply(req, "Code written.")
		}
		return act(req, "Reporting "+claimed.ID+".", toolCall(req, 0, coretools.ToolCompleteTask, map[string]interface{}{
			"task_id": claimed.ID,
			"result":  "Implemented " + artifactPath(claimed),
		}))

	case coretools.ToolCompleteTask:
		if claimed := claimedTask(turn); claimed != nil {
			return reply(req, fmt.Sprintf("Completed %s.", claimed.ID))
		}
	}
	return reply(req, "Done.")
}

func testerStep(req agent.LLMRequest, turn scriptTurn, spec AgentSpec) *agent.LLMResponse {
	switch turn.lastTool() {
	case "":
		return act(req, "Looking for a test task.", toolCall(req, 0, coretools.ToolClaimTask, map[string]interface{}{
			"worker_id":      spec.ID,
			"preferred_type": string(task.TypeTest),
		}))

	case coretools.ToolClaimTask:
		var calls []agent.ToolCall
		for _, suite := range []string{"unit", "integration", "e2e"} {
			calls = append(calls, toolCall(req, len(calls), coretools.ToolRunTests, map[string]interface{}{
				"test_type": suite,
			}))
		}
		return act(req, "Running the test suites.", calls...)

	case coretools.ToolRunTests:
		summary := testSummary(turn)
		if claimed := claimedTask(turn); claimed != nil {
			return act(req, "Recording the results.", toolCall(req, 0, coretools.ToolCompleteTask, map[string]interface{}{
				"task_id": claimed.ID,
				"result":  summary,
			}))
		}
		return reply(req, summary)

	case coretools.ToolCompleteTask:
		return reply(req, testSummary(turn))
	}
	return reply(req, "Done.")
}

func claimedTask(turn scriptTurn) *task.Task {
	outs := turn.outputs(coretools.ToolClaimTask)
	if len(outs) == 0 {
		return nil
	}
	var result struct {
		Task *task.Task `json:"task"`
	}
	if err := json.Unmarshal([]byte(outs[0]), &result); err != nil {
		return nil
	}
	return result.Task
}

func testSummary(turn scriptTurn) string {
	var lines []string
	for _, out := range turn.outputs(coretools.ToolRunTests) {
		var r struct {
			Type     string `json:"type"`
			Passed   bool   `json:"passed"`
			Coverage string `json:"coverage"`
		}
		if err := json.Unmarshal([]byte(out), &r); err != nil {
			continue
		}
		verdict := "passed"
		if !r.Passed {
			verdict = "failed"
		}
		lines = append(lines, fmt.Sprintf("%s: %s (coverage %s)", r.Type, verdict, r.Coverage))
	}
	if len(lines) == 0 {
		return "No test results."
	}
	return strings.Join(lines, "\n")
}

func artifactPath(t *task.Task) string {
	switch t.Type {
	case task.TypeFrontend:
		return fmt.Sprintf("app/components/%s.tsx", t.ID)
	case task.TypeBackend:
		return fmt.Sprintf("app/api/%s/route.ts", t.ID)
	case task.TypeStyling:
		return fmt.Sprintf("styles/%s.css", t.ID)
	}
	return fmt.Sprintf("%s/%s.txt", t.Type, t.ID)
}

func artifactCode(t *task.Task) string {
	switch t.Type {
	case task.TypeFrontend:
		return fmt.Sprintf("// %s\nexport default function Component() {\n  return <div className=\"text-[#00FF99]\">%s</div>;\n}\n", t.Description, t.ID)
	case task.TypeBackend:
		return fmt.Sprintf("// %s\nexport async function GET() {\n  return Response.json({ ok: true });\n}\n", t.Description)
	case task.TypeStyling:
		return fmt.Sprintf("/* %s */\n:root {\n  --accent: #00FF99;\n  --background: #000000;\n  --radius: 0;\n}\n", t.Description)
	}
	return t.Description + "\n"
}

func toolCall(req agent.LLMRequest, n int, name string, params map[string]interface{}) agent.ToolCall {
	return agent.ToolCall{
		ID:         fmt.Sprintf("call-%d-%d", len(req.Messages), n),
		Name:       name,
		Parameters: params,
	}
}

func act(req agent.LLMRequest, content string, calls ...agent.ToolCall) *agent.LLMResponse {
	resp := reply(req, content)
	resp.ToolCalls = calls
	return resp
}

func reply(req agent.LLMRequest, content string) *agent.LLMResponse {
	return &agent.LLMResponse{
		Content: content,
		Usage: &agent.TokenUsage{
			InputTokens:  agent.EstimateTokens(req.Messages),
			OutputTokens: len(content) / 4,
		},
	}
}
