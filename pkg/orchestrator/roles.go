package orchestrator

import (
	"fmt"
	"strings"

	"github.com/harun/agentfactory/pkg/task"
)

// Default agent ids
const (
	SupervisorID     = "supervisor"
	WorkerFrontendID = "worker-frontend"
	WorkerBackendID  = "worker-backend"
	WorkerStylingID  = "worker-styling"
	TesterID         = "tester"
)

const supervisorPrompt = `You are the supervisor of a software factory. Break each requirement into concrete tasks and hand them to the workers.

Rules:
- Create one task per unit of work with create_task. Use type "frontend" for pages and components, "backend" for API routes and data, "styling" for CSS and theme work.
- Check progress with get_task_status whenever you are asked for a status.
- Create "test" tasks only once the frontend, backend and styling tasks are completed.
- Keep task descriptions short and self-contained.`

const testerPrompt = `You are the tester (id: tester).

Workflow:
1. Claim a test task with claim_task using worker_id "tester" and preferred_type "test".
2. Run the unit, integration and e2e suites with run_tests.
3. Analyse the results and finish the task with complete_task, summarising pass or fail and coverage.
If no test task is available, still run the suites and report the results.`

// workerBriefs holds the stack notes for each worker type
var workerBriefs = map[task.Type]string{
	task.TypeFrontend: "You build pages and React components with Next.js, TypeScript and Tailwind CSS. The accent color is neon green #00FF99.",
	task.TypeBackend:  "You build Next.js API routes and server logic in TypeScript, with input validation and clear error responses.",
	task.TypeStyling:  "You own the theme: CSS and Tailwind configuration, neon green #00FF99 on black #000000, no rounded corners.",
}

// WorkerPrompt builds the system prompt of a worker for taskType
func WorkerPrompt(id string, taskType task.Type) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s developer (id: %s).\n", taskType, id)
	if brief, ok := workerBriefs[taskType]; ok {
		b.WriteString(brief)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, `
Workflow:
1. Claim a task with claim_task using worker_id %q and preferred_type %q.
2. If a task was returned, write its code with write_code.
3. Report with complete_task, passing the task id and a short summary.
If no task is available, say so and stop.`, id, taskType)
	return b.String()
}

// DefaultAgents returns the supervisor, the frontend, backend and styling
// workers, and the tester
func DefaultAgents() []AgentSpec {
	return []AgentSpec{
		{ID: SupervisorID, Role: RoleSupervisor, DisplayName: "Supervisor", Prompt: supervisorPrompt},
		{ID: WorkerFrontendID, Role: RoleWorker, DisplayName: "Frontend developer", TaskType: task.TypeFrontend, Prompt: WorkerPrompt(WorkerFrontendID, task.TypeFrontend)},
		{ID: WorkerBackendID, Role: RoleWorker, DisplayName: "Backend developer", TaskType: task.TypeBackend, Prompt: WorkerPrompt(WorkerBackendID, task.TypeBackend)},
		{ID: WorkerStylingID, Role: RoleWorker, DisplayName: "Styling designer", TaskType: task.TypeStyling, Prompt: WorkerPrompt(WorkerStylingID, task.TypeStyling)},
		{ID: TesterID, Role: RoleTester, DisplayName: "Tester", Prompt: testerPrompt},
	}
}

// Cycle prompts
func assignPrompt(requirement string) string {
	return "Analyse the following requirement and create tasks for workers:\n\n" + requirement
}

const (
	executePrompt = "Claim one suitable task of your type and complete it, then report."
	checkPrompt   = "Check the task status with get_task_status and report what remains."
	testPrompt    = "Run all test types (unit, integration, e2e) and report the results."
)
