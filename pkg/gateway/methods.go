package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/harun/agentfactory/pkg/task"
)

func (s *Server) registerBuiltinMethods() {
	_ = s.router.RegisterMethod("factory.status", s.handleFactoryStatus)
	_ = s.router.RegisterMethod("factory.tasks", s.handleFactoryTasks)
	_ = s.router.RegisterMethod("factory.task", s.handleFactoryTask)
	_ = s.router.RegisterMethod("factory.runs", s.handleFactoryRuns)
	_ = s.router.RegisterMethod("gateway.clients", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return s.clients.GetConnectedClients(), nil
	})
	_ = s.router.RegisterMethod("gateway.methods", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return s.router.GetMethods(), nil
	})
}

func (s *Server) handleFactoryStatus(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return s.store.Status(), nil
}

// handleFactoryTasks lists tasks, optionally filtered by status and type
func (s *Server) handleFactoryTasks(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	status, _ := params["status"].(string)
	taskType, _ := params["type"].(string)
	if taskType != "" && !task.Type(taskType).Valid() {
		return nil, &RPCError{Code: InvalidParams, Message: "unknown task type: " + taskType}
	}

	out := make([]*task.Task, 0)
	for _, t := range s.store.List() {
		if status != "" && string(t.Status) != status {
			continue
		}
		if taskType != "" && string(t.Type) != taskType {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Server) handleFactoryTask(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, _ := params["id"].(string)
	if strings.TrimSpace(id) == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "id is required"}
	}
	t, err := s.store.Get(id)
	if errors.Is(err, task.ErrNotFound) {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	return t, err
}

func (s *Server) handleFactoryRuns(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if s.tracker == nil {
		return []interface{}{}, nil
	}
	if agentID, _ := params["agent_id"].(string); agentID != "" {
		return s.tracker.ListByAgent(agentID), nil
	}
	return s.tracker.List(), nil
}
