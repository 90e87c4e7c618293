package climber

import (
	"github.com/climber-engine/mcp-server-go/mcp"
	"github.com/climber-engine/mcp-server-go/mcpservice"
)

// Prompts returns the static prompt templates. They need no collaborators.
func Prompts() []mcpservice.Prompt {
	return []mcpservice.Prompt{
		{
			Name:        "code_review",
			Description: "Code review prompt for analyzing code quality",
			Arguments: []mcp.PromptArgument{
				{Name: "code", Description: "Code to review", Required: true},
			},
			Messages: []mcpservice.PromptMessageTemplate{{
				Role: mcp.RoleUser,
				Text: "Please review the following code and provide feedback on:\n" +
					"1. Code quality and best practices\n" +
					"2. Potential bugs or issues\n" +
					"3. Performance considerations\n" +
					"4. Suggestions for improvement\n\n" +
					"Code:\n{code}",
			}},
		},
		{
			Name:        "skill_assessment",
			Description: "Skill assessment prompt for evaluating programming abilities",
			Arguments: []mcp.PromptArgument{
				{Name: "code_samples", Description: "Code samples to assess", Required: true},
			},
			Messages: []mcpservice.PromptMessageTemplate{{
				Role: mcp.RoleUser,
				Text: "Assess the programming skills demonstrated in the following code:\n" +
					"1. Technical competency level\n" +
					"2. Understanding of concepts\n" +
					"3. Code organization and structure\n" +
					"4. Areas for improvement\n\n" +
					"Code samples:\n{code_samples}",
			}},
		},
		{
			Name:        "learning_plan",
			Description: "Learning plan generation prompt",
			Arguments: []mcp.PromptArgument{
				{Name: "skill_level", Description: "Current skill level", Required: true},
				{Name: "goals", Description: "Learning goals", Required: true},
				{Name: "time_commitment", Description: "Available time"},
				{Name: "learning_style", Description: "Preferred learning style"},
			},
			Messages: []mcpservice.PromptMessageTemplate{{
				Role: mcp.RoleUser,
				Text: "Create a personalized learning plan for a programmer with the following profile:\n" +
					"- Current skill level: {skill_level}\n" +
					"- Learning goals: {goals}\n" +
					"- Available time: {time_commitment}\n" +
					"- Preferred learning style: {learning_style}\n\n" +
					"Provide a structured plan with specific tasks and milestones.",
			}},
		},
	}
}
