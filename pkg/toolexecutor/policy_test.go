package toolexecutor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolPolicy_IsToolAllowed(t *testing.T) {
	t.Run("should allow everything with a nil policy", func(t *testing.T) {
		var policy *ToolPolicy
		assert.True(t, policy.IsToolAllowed("any_tool"))
	})

	t.Run("should allow all with a wildcard", func(t *testing.T) {
		policy := &ToolPolicy{Allow: []string{"*"}}
		assert.True(t, policy.IsToolAllowed("create_task"))
		assert.True(t, policy.IsToolAllowed("run_tests"))
	})

	t.Run("should let deny override allow", func(t *testing.T) {
		policy := &ToolPolicy{Allow: []string{"*"}, Deny: []string{"write_code"}}
		assert.True(t, policy.IsToolAllowed("claim_task"))
		assert.False(t, policy.IsToolAllowed("write_code"))

		all := &ToolPolicy{Allow: []string{"*"}, Deny: []string{"*"}}
		assert.False(t, all.IsToolAllowed("claim_task"))
	})

	t.Run("should deny tools outside the allow list", func(t *testing.T) {
		policy := &ToolPolicy{Allow: []string{"read_file", "search_code"}}
		assert.True(t, policy.IsToolAllowed("read_file"))
		assert.False(t, policy.IsToolAllowed("write_code"))
	})
}

func TestAllowOnly(t *testing.T) {
	assert.Nil(t, AllowOnly())
	assert.True(t, AllowOnly("*").IsToolAllowed("anything"))
	assert.False(t, AllowOnly("a").IsToolAllowed("b"))
}
