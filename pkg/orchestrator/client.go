package orchestrator

import (
	"context"

	"github.com/harun/agentfactory/pkg/agent"
)

// Client is the agent client surface the coordinator drives
type Client interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	CreateSession(ctx context.Context, opts agent.SessionOptions) (Session, error)
}

// Session is one agent conversation
type Session interface {
	ID() string
	SendAndWait(ctx context.Context, prompt string) (string, error)
	Abort() bool
	Usage() agent.TokenUsage
	Destroy(ctx context.Context) error
}

// WrapClient adapts an agent.Client to Client
func WrapClient(c *agent.Client) Client {
	return agentClient{c}
}

type agentClient struct {
	*agent.Client
}

func (c agentClient) CreateSession(ctx context.Context, opts agent.SessionOptions) (Session, error) {
	s, err := c.Client.CreateSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}
