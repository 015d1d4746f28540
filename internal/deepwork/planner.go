// Package deepwork turns a free-form request into a dependency-ordered task
// graph and drives it to completion: planner, scheduler, and the session
// facade the API and chat loop talk to.
package deepwork

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shabbark/pocketpaw/internal/providers"
)

// PlannedTask is one node of a generated plan. DependsOn holds indices into
// the plan's task list; ids are assigned at materialization.
type PlannedTask struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	TaskType         string `json:"task_type"`
	Priority         string `json:"priority"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	DependsOn        []int  `json:"depends_on"`
}

// Plan is the planner's output: a PRD and the task graph implementing it.
type Plan struct {
	Title string        `json:"title"`
	PRD   string        `json:"prd"`
	Tasks []PlannedTask `json:"tasks"`
}

// PlanRequest carries the user's request into the planner.
type PlanRequest struct {
	UserInput     string
	ResearchDepth string
	ProjectTitle  string
}

// Planner decomposes a request into a plan. The session owns validation;
// implementations may assume the request is well formed.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*Plan, error)
}

// LLMPlanner asks an agent backend for a plan as structured JSON.
type LLMPlanner struct {
	provider providers.Provider
}

// NewLLMPlanner builds a planner over a provider.
func NewLLMPlanner(p providers.Provider) *LLMPlanner {
	return &LLMPlanner{provider: p}
}

var depthGuidance = map[string]string{
	"none":     "Do not add research tasks. Plan implementation work only.",
	"quick":    "Add at most one short research task before implementation.",
	"standard": "Add research tasks where the request has open questions.",
	"deep":     "Front-load thorough research tasks before any implementation work.",
}

// Plan prompts the backend for a JSON plan and parses it.
func (p *LLMPlanner) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	prompt := fmt.Sprintf(`You are a project planner. Decompose the request below into a task graph.

Request:
%s

%s

Respond with a single JSON object, no prose, in this shape:
{
  "title": "short project title",
  "prd": "markdown requirements document",
  "tasks": [
    {
      "title": "...",
      "description": "...",
      "task_type": "agent|human|review",
      "priority": "low|medium|high|urgent",
      "estimated_minutes": 30,
      "depends_on": [0]
    }
  ]
}
depends_on lists indices of earlier tasks that must finish first. Use "human"
for steps only a person can do (accounts, payments, physical actions).`,
		req.UserInput, depthGuidance[req.ResearchDepth])

	resp, err := p.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("planning request failed: %w", err)
	}
	plan, err := parsePlan(resp.Content)
	if err != nil {
		return nil, err
	}
	if plan.Title == "" {
		plan.Title = req.ProjectTitle
	}
	return plan, nil
}

// parsePlan extracts the JSON object from a model response, tolerating prose
// or code fences around it.
func parsePlan(content string) (*Plan, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("planner returned no JSON object")
	}
	var plan Plan
	if err := json.Unmarshal([]byte(content[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("planner returned malformed JSON: %w", err)
	}
	if len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("planner returned an empty task list")
	}
	for i, t := range plan.Tasks {
		if t.Title == "" {
			return nil, fmt.Errorf("planner task %d has no title", i)
		}
		for _, dep := range t.DependsOn {
			if dep < 0 || dep >= len(plan.Tasks) {
				return nil, fmt.Errorf("planner task %d depends on unknown index %d", i, dep)
			}
			if dep == i {
				return nil, fmt.Errorf("planner task %d depends on itself", i)
			}
		}
	}
	return &plan, nil
}
