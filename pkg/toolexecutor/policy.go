package toolexecutor

// ToolPolicy defines which tools an agent can use
type ToolPolicy struct {
	Allow []string `json:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny"`  // List of denied tools (overrides allow)
}

// AllowOnly returns a policy allowing exactly the named tools. An empty
// list or "*" allows everything.
func AllowOnly(names ...string) *ToolPolicy {
	if len(names) == 0 {
		return nil
	}
	return &ToolPolicy{Allow: names}
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		return true
	}

	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	return false
}
