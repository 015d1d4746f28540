package missioncontrol

import (
	"fmt"
	"strings"

	"github.com/shabbark/pocketpaw/internal/store"
)

const (
	prdExcerptLimit      = 2000
	upstreamExcerptLimit = 1000
)

// buildTaskPrompt assembles the prompt an agent receives for one task: the
// agent's persona, the project context with its PRD excerpt, the outputs of
// finished upstream tasks, and finally the task itself.
func (e *Executor) buildTaskPrompt(task *store.Task, agent *store.AgentProfile) string {
	var lines []string

	lines = append(lines, fmt.Sprintf("You are %s, a %s.", agent.Name, agent.Role))
	if agent.Description != "" {
		lines = append(lines, fmt.Sprintf("Description: %s", agent.Description))
	}
	if len(agent.Specialties) > 0 {
		lines = append(lines, fmt.Sprintf("Specialties: %s", strings.Join(agent.Specialties, ", ")))
	}

	if task.ProjectID != "" {
		if project, ok := e.manager.GetProject(task.ProjectID); ok {
			lines = append(lines,
				"",
				"## Project Context",
				fmt.Sprintf("**Project:** %s", project.Title),
				fmt.Sprintf("**Working Directory:** %s", e.projectDir(project.ID)),
			)
			if project.PRDDocumentID != "" {
				if prd, ok := e.manager.GetDocument(project.PRDDocumentID); ok && prd.Content != "" {
					lines = append(lines, "", "### Requirements (PRD)", excerpt(prd.Content, prdExcerptLimit))
				}
			}
			if upstream := e.upstreamOutputs(task); len(upstream) > 0 {
				lines = append(lines,
					"",
					"### Upstream Task Outputs",
					"The following tasks have been completed before yours. Use their output as context:",
					"",
				)
				lines = append(lines, upstream...)
			}
		}
	}

	lines = append(lines, "", "## Task", fmt.Sprintf("**Title:** %s", task.Title))
	if task.Description != "" {
		lines = append(lines, fmt.Sprintf("**Description:** %s", task.Description))
	}
	lines = append(lines,
		fmt.Sprintf("**Priority:** %s", task.Priority),
		"",
		"Please complete this task. Provide your work and findings.",
	)

	return strings.Join(lines, "\n")
}

// upstreamOutputs collects deliverable excerpts from finished dependencies.
func (e *Executor) upstreamOutputs(task *store.Task) []string {
	var out []string
	for _, depID := range task.BlockedBy {
		dep, ok := e.manager.GetTask(depID)
		if !ok || dep.Status != store.TaskDone {
			continue
		}
		for _, doc := range e.manager.TaskDocuments(dep.ID) {
			if doc.Content == "" {
				continue
			}
			out = append(out, fmt.Sprintf("**%s:**\n%s", dep.Title, excerpt(doc.Content, upstreamExcerptLimit)))
		}
	}
	return out
}

func excerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... (truncated)"
}
