package climber

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/climber-engine/mcp-server-go/backend"
	"github.com/climber-engine/mcp-server-go/mcp"
	"github.com/climber-engine/mcp-server-go/mcpservice"
)

type analyzeCodeArgs struct {
	Code     string `json:"code" jsonschema_description:"Code content to analyze"`
	Language string `json:"language,omitempty" jsonschema_description:"Programming language"`
	FilePath string `json:"file_path,omitempty" jsonschema_description:"File path (optional)"`
}

type learningTasksArgs struct {
	SkillAreas      []string `json:"skill_areas" jsonschema_description:"Areas to focus on"`
	DifficultyLevel string   `json:"difficulty_level,omitempty" jsonschema:"enum=beginner,enum=intermediate,enum=advanced" jsonschema_description:"Difficulty level"`
	Count           int      `json:"count,omitempty" jsonschema:"minimum=1,maximum=10" jsonschema_description:"Number of tasks to generate"`
}

type assessSkillsArgs struct {
	CodeSamples []string `json:"code_samples" jsonschema_description:"Code samples to assess"`
	SkillType   string   `json:"skill_type" jsonschema_description:"Type of skill to assess"`
	Context     string   `json:"context,omitempty" jsonschema_description:"Additional context for assessment"`
}

type codingInsightsArgs struct {
	SessionData  map[string]any `json:"session_data" jsonschema_description:"Coding session data"`
	AnalysisType string         `json:"analysis_type,omitempty" jsonschema:"enum=performance,enum=quality,enum=learning" jsonschema_description:"Type of analysis"`
}

type suggestImprovementsArgs struct {
	Code       string   `json:"code" jsonschema_description:"Code to improve"`
	FocusAreas []string `json:"focus_areas,omitempty" jsonschema_description:"Areas to focus on"`
	Language   string   `json:"language,omitempty" jsonschema_description:"Programming language"`
}

// errNoBackend is reported by tools when the server runs without a model.
var errNoBackend = fmt.Errorf("%w: no model backend configured", backend.ErrBackendUnavailable)

func (c *catalogue) tools() []mcpservice.Tool {
	open := mcpservice.WithToolAllowAdditionalProperties(true)
	return []mcpservice.Tool{
		mcpservice.NewTool("analyze_code", c.analyzeCode,
			mcpservice.WithToolDescription("Analyze code for technical debt, complexity, and quality issues"), open),
		mcpservice.NewTool("generate_learning_tasks", c.generateLearningTasks,
			mcpservice.WithToolDescription("Generate personalized learning tasks based on skill assessment"), open),
		mcpservice.NewTool("assess_skills", c.assessSkills,
			mcpservice.WithToolDescription("Assess programming skills based on code samples and performance"), open),
		mcpservice.NewTool("get_coding_insights", c.codingInsights,
			mcpservice.WithToolDescription("Get insights and recommendations based on coding session data"), open),
		mcpservice.NewTool("suggest_improvements", c.suggestImprovements,
			mcpservice.WithToolDescription("Suggest code improvements and best practices"), open),
	}
}

const analyzeSystemPrompt = `You are an expert in code quality analysis. Analyze the supplied code, identify technical debt and recommend improvements.

Consider:
1. Complexity and readability
2. Potential performance problems
3. Security vulnerabilities
4. Code smells such as duplication, long functions and large types
5. Violations of best practice
6. Maintainability

Reply with a JSON object containing:
- debt_score: technical debt score from 0 to 100, higher is worse
- issues: list of problems found
- recommendations: list of improvements
- priority: high, medium or low
- estimated_fix_time: estimated effort in hours`

func (c *catalogue) analyzeCode(ctx context.Context, r *mcpservice.ToolRequest[analyzeCodeArgs]) (*mcp.CallToolResult, error) {
	a := r.Args()
	lang := cmp.Or(a.Language, "python")
	path := cmp.Or(a.FilePath, "unknown")

	user := fmt.Sprintf("Analyze the technical debt of the following %s code.\n\nFile path: %s\n\n```%s\n%s\n```", lang, path, lang, a.Code)
	res, err := c.ask(ctx, analyzeSystemPrompt, user, 0.3, 2000)
	if err != nil {
		return nil, err
	}
	return mcpservice.JSONResult(map[string]any{
		"analysis_type": "code_analysis",
		"language":      lang,
		"file_path":     path,
		"ai_analysis":   parseModelJSON(res.Content, "raw_analysis"),
		"model_info":    modelInfo(res),
		"timestamp":     c.timestamp(),
	})
}

const learningTasksSystemPrompt = `You are an expert programming educator. Based on the learner's skill level and goals, design personalized programming tasks.

Tasks should:
1. Build progressively from the learner's current level
2. Be practice oriented with concrete exercises
3. Have clear learning objectives
4. Have measurable completion criteria
5. Be engaging and challenging

Reply with a JSON object containing a tasks list. Each task has title, description, objectives, difficulty, estimated_hours, prerequisites, deliverables and evaluation_criteria.`

func (c *catalogue) generateLearningTasks(ctx context.Context, r *mcpservice.ToolRequest[learningTasksArgs]) (*mcp.CallToolResult, error) {
	a := r.Args()
	if len(a.SkillAreas) == 0 {
		return mcpservice.Errorf("skill_areas must name at least one area"), nil
	}
	level := cmp.Or(a.DifficultyLevel, "intermediate")
	count := cmp.Or(a.Count, 5)

	owner, err := c.sessionOwner(ctx, r.SessionID())
	if err != nil {
		return nil, err
	}
	profile, err := json.MarshalIndent(map[string]any{
		"skill_level":       owner.SkillLevel,
		"primary_languages": owner.PrimaryLanguages,
		"learning_style":    owner.LearningStyle,
	}, "", "  ")
	if err != nil {
		return nil, err
	}

	user := fmt.Sprintf("Generate %d personalized learning tasks for this learner.\n\nSkill profile:\n%s\n\nFocus areas: %s\nDifficulty level: %s\n\nMake the tasks challenging but appropriate for the current level.",
		count, profile, strings.Join(a.SkillAreas, ", "), level)
	res, err := c.ask(ctx, learningTasksSystemPrompt, user, 0.7, 3000)
	if err != nil {
		return nil, err
	}

	tasks := parseModelJSON(res.Content, "raw_tasks")
	if m, ok := tasks.(map[string]any); ok {
		if list, ok := m["tasks"]; ok {
			tasks = list
		}
	}
	return mcpservice.JSONResult(map[string]any{
		"task_generation":    "success",
		"requested_skills":   a.SkillAreas,
		"difficulty_level":   level,
		"count":              count,
		"ai_generated_tasks": tasks,
		"model_info":         modelInfo(res),
		"timestamp":          c.timestamp(),
	})
}

const assessSystemPrompt = `You are an expert assessor of programming skill. Based on the supplied code samples, evaluate the author's level in the named skill area.

Evaluate:
1. Command of syntax
2. Understanding of algorithms and data structures
3. Use of design patterns
4. Code organization and architecture
5. Error handling and edge cases
6. Performance awareness
7. Readability and documentation

Reply with a JSON object containing overall_score (0 to 100), skill_breakdown, strengths, weaknesses, recommendations and next_steps.`

func (c *catalogue) assessSkills(ctx context.Context, r *mcpservice.ToolRequest[assessSkillsArgs]) (*mcp.CallToolResult, error) {
	a := r.Args()
	if len(a.CodeSamples) == 0 || a.SkillType == "" {
		return mcpservice.Errorf("code_samples and skill_type must not be empty"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Assess the author's %s skills.\n\n", a.SkillType)
	if a.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n\n", a.Context)
	}
	for i, s := range a.CodeSamples {
		fmt.Fprintf(&b, "Sample %d:\n```\n%s\n```\n\n", i+1, s)
	}
	b.WriteString("Provide a detailed assessment and learning recommendations.")

	res, err := c.ask(ctx, assessSystemPrompt, b.String(), 0.3, 2000)
	if err != nil {
		return nil, err
	}
	return mcpservice.JSONResult(map[string]any{
		"skill_type":            a.SkillType,
		"ai_assessment":         parseModelJSON(res.Content, "raw_assessment"),
		"code_samples_analyzed": len(a.CodeSamples),
		"model_info":            modelInfo(res),
		"timestamp":             c.timestamp(),
	})
}

const insightsSystemPrompt = `You are a programming mentor and performance analyst. Based on the learner's coding session data, provide in-depth insights and recommendations.

Consider:
1. Efficiency and productivity
2. Code quality trends
3. Learning progress and skill development
4. Recurring mistakes
5. Application of best practices

Reply with a JSON object.`

func (c *catalogue) codingInsights(ctx context.Context, r *mcpservice.ToolRequest[codingInsightsArgs]) (*mcp.CallToolResult, error) {
	a := r.Args()
	kind := cmp.Or(a.AnalysisType, "performance")
	data, err := json.MarshalIndent(a.SessionData, "", "  ")
	if err != nil {
		return nil, err
	}

	user := fmt.Sprintf("Analyze the following coding session data with a focus on %s.\n\nSession data:\n%s\n\nProvide concrete insights and actionable recommendations.", kind, data)
	res, err := c.ask(ctx, insightsSystemPrompt, user, 0.6, 2000)
	if err != nil {
		return nil, err
	}
	return mcpservice.JSONResult(map[string]any{
		"analysis_type":   kind,
		"session_summary": a.SessionData,
		"ai_insights":     parseModelJSON(res.Content, "raw_insights"),
		"model_info":      modelInfo(res),
		"timestamp":       c.timestamp(),
	})
}

func (c *catalogue) suggestImprovements(ctx context.Context, r *mcpservice.ToolRequest[suggestImprovementsArgs]) (*mcp.CallToolResult, error) {
	a := r.Args()
	lang := cmp.Or(a.Language, "python")

	system := fmt.Sprintf(`You are a senior %s developer. Analyze the supplied code and give concrete improvement suggestions.

Focus on:
1. Structure and design patterns
2. Performance opportunities
3. Readability and maintainability
4. Error handling and edge cases
5. Best practices`, lang)
	if len(a.FocusAreas) > 0 {
		system += "\n\nPay particular attention to: " + strings.Join(a.FocusAreas, ", ")
	}
	system += "\n\nInclude revised code examples."

	user := fmt.Sprintf("Suggest improvements for the following %s code:\n\n```%s\n%s\n```", lang, lang, a.Code)
	res, err := c.ask(ctx, system, user, 0.4, 3000)
	if err != nil {
		return nil, err
	}
	return mcpservice.JSONResult(map[string]any{
		"original_code":  a.Code,
		"language":       lang,
		"focus_areas":    a.FocusAreas,
		"ai_suggestions": res.Content,
		"model_info":     modelInfo(res),
		"timestamp":      c.timestamp(),
	})
}

// ask sends one system and one user message to the default provider.
func (c *catalogue) ask(ctx context.Context, system, user string, temperature float64, maxTokens int) (*backend.Result, error) {
	if c.Backend == nil {
		return nil, errNoBackend
	}
	res, err := c.Backend.Call(ctx, backend.Request{
		Messages: []backend.Message{
			{Role: mcp.RoleSystem, Content: system},
			{Role: mcp.RoleUser, Content: user},
		},
		Options: backend.Options{Temperature: &temperature, MaxTokens: maxTokens},
	})
	if err != nil {
		if errors.Is(err, backend.ErrBackendUnavailable) || errors.Is(err, backend.ErrUnknownProvider) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", backend.ErrBackendUnavailable, err)
	}
	return res, nil
}

func (c *catalogue) timestamp() string {
	return c.Now().UTC().Format(time.RFC3339)
}

// parseModelJSON returns the model's reply decoded when it is JSON, including
// JSON wrapped in a markdown code fence. Otherwise the text is returned under
// rawKey.
func parseModelJSON(content, rawKey string) any {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return map[string]any{rawKey: content}
}

func modelInfo(res *backend.Result) map[string]any {
	return map[string]any{
		"provider": res.Provider,
		"model":    res.Model,
		"usage":    res.Usage,
	}
}
