package gateway

import (
	"github.com/harun/agentfactory/pkg/agent"
	"github.com/harun/agentfactory/pkg/subagent"
	"github.com/harun/agentfactory/pkg/task"
)

var eventStreams = map[agent.EventType]struct {
	stream StreamType
	phase  string
}{
	agent.EventMessageDelta: {StreamTypeAssistant, "delta"},
	agent.EventMessage:      {StreamTypeAssistant, "message"},
	agent.EventToolStart:    {StreamTypeTool, "start"},
	agent.EventToolComplete: {StreamTypeTool, "end"},
	agent.EventSessionIdle:  {StreamTypeLifecycle, "idle"},
	agent.EventSessionError: {StreamTypeLifecycle, "error"},
}

// Publish implements agent.EventSink. It never blocks the session.
func (s *Server) Publish(ev agent.Event) {
	route, ok := eventStreams[ev.Type]
	if !ok {
		route.stream = StreamTypeLifecycle
	}
	s.enqueue(EventMessage{
		Event:     string(ev.Type),
		Stream:    route.stream,
		Phase:     route.phase,
		Data:      ev.Data,
		Timestamp: ev.Timestamp.UnixMilli(),
		SessionID: ev.SessionID,
		AgentID:   ev.Agent,
	})
}

// OnTaskTransition broadcasts a task state change
func (s *Server) OnTaskTransition(tr task.Transition) {
	agentID := ""
	if tr.Task != nil {
		agentID = tr.Task.Assignee
	}
	s.enqueue(EventMessage{
		Event:   "task.transition",
		Stream:  StreamTypeTask,
		Phase:   string(tr.To),
		Data:    tr,
		AgentID: agentID,
	})
}

func (s *Server) onRun(record subagent.RunRecord) {
	s.enqueue(EventMessage{
		Event:     "run.updated",
		Stream:    StreamTypeRun,
		Phase:     string(record.Status),
		Data:      record,
		SessionID: record.SessionID,
		AgentID:   record.AgentID,
	})
}
