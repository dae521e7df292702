package coretools

import (
	"context"
	"fmt"

	"github.com/harun/agentfactory/pkg/toolexecutor"
)

// BlogCategory is one entry returned by fetch_blog_categories
type BlogCategory struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

var blogCategories = []BlogCategory{
	{ID: "tech", Name: "Tech", Color: "#00FF99"},
	{ID: "design", Name: "Design", Color: "#FFD700"},
	{ID: "ai", Name: "AI", Color: "#FF00FF"},
	{ID: "life", Name: "Life", Color: "#00BFFF"},
}

// BlogTools returns the tools used by the custom tools example
func BlogTools() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		toolexecutor.DefineTool(
			"generate_blog_outline",
			"Generate a blog post outline for a topic.",
			[]toolexecutor.ToolParameter{
				{Name: "topic", Type: "string", Description: "Post topic", Required: true},
				{Name: "sections", Type: "integer", Description: "Number of sections (1-20, default 5)", Default: 5},
			},
			func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				topic, _ := params["topic"].(string)
				if topic == "" {
					return nil, toolexecutor.NewToolError(toolexecutor.CodeInvalidArgument, "topic is required")
				}
				n := 5
				if raw, ok := numberParam(params, "sections"); ok {
					n = int(raw)
				}
				return GenerateOutline(topic, n), nil
			},
		),
		toolexecutor.DefineTool(
			"fetch_blog_categories",
			"List the blog categories with their display colors.",
			nil,
			func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				out := make([]BlogCategory, len(blogCategories))
				copy(out, blogCategories)
				return map[string]interface{}{"categories": out}, nil
			},
		),
	}
}

// OutlineSection is one section of a generated outline
type OutlineSection struct {
	Heading     string `json:"heading"`
	Description string `json:"description"`
}

// Outline is the result of generate_blog_outline
type Outline struct {
	Title             string           `json:"title"`
	Sections          []OutlineSection `json:"sections"`
	EstimatedReadTime string           `json:"estimatedReadTime"`
}

// GenerateOutline builds an outline with n sections, clamped to [1, 20]
func GenerateOutline(topic string, n int) Outline {
	if n < 1 {
		n = 1
	}
	if n > 20 {
		n = 20
	}
	sections := make([]OutlineSection, n)
	for i := range sections {
		sections[i] = OutlineSection{
			Heading:     fmt.Sprintf("Section %d", i+1),
			Description: fmt.Sprintf("Part %d of %d on %s", i+1, n, topic),
		}
	}
	return Outline{
		Title:             "Deep dive: " + topic,
		Sections:          sections,
		EstimatedReadTime: fmt.Sprintf("%d minutes", n*2),
	}
}
