package coretools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/agentfactory/pkg/toolexecutor"
)

func TestGenerateOutline(t *testing.T) {
	outline := GenerateOutline("Go concurrency", 3)
	assert.Equal(t, "Deep dive: Go concurrency", outline.Title)
	assert.Len(t, outline.Sections, 3)
	assert.Equal(t, "6 minutes", outline.EstimatedReadTime)

	assert.Len(t, GenerateOutline("x", 0).Sections, 1)
	assert.Len(t, GenerateOutline("x", 99).Sections, 20)
}

func TestBlogTools(t *testing.T) {
	exec := toolexecutor.New()
	require.NoError(t, exec.RegisterAll(BlogTools()...))
	ctx := context.Background()

	t.Run("should default to five sections", func(t *testing.T) {
		result := exec.Execute(ctx, "generate_blog_outline", map[string]interface{}{"topic": "AI pair programming"}, nil)
		require.True(t, result.Success, result.Error)
		outline := result.Output.(Outline)
		assert.Len(t, outline.Sections, 5)
		assert.Equal(t, "10 minutes", outline.EstimatedReadTime)
	})

	t.Run("should list the four categories", func(t *testing.T) {
		result := exec.Execute(ctx, "fetch_blog_categories", nil, nil)
		out := output(t, result)
		categories := out["categories"].([]BlogCategory)
		require.Len(t, categories, 4)
		assert.Equal(t, "#00FF99", categories[0].Color)
		assert.Equal(t, "life", categories[3].ID)
	})
}
