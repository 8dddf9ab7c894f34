// Package plan turns raw markdown master plans into a structured forest of
// waypoints, projects and tasks, with derived dependency lists, definition
// of done checklists, complexity scores, subtasks and milestones.
//
// Expected structure:
//
//	# Master Plan Title
//	## Waypoint: Name
//	### Project: Name
//	#### Task: Name
//
// Parsing is pure and deterministic. Empty input yields an empty result.
// Callers gate input with `Validate` first.
package plan

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

type Waypoint struct {
	Id          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Order       int      `json:"order"`
	ProjectIds  []string `json:"project_ids"`
}

type Project struct {
	Id               string      `json:"id"`
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	DefinitionOfDone []string    `json:"definition_of_done"`
	WaypointId       string      `json:"waypoint_id,omitempty"`
	SuggestedOkrs    []Objective `json:"suggested_okrs"`
}

type Objective struct {
	Objective  string   `json:"objective"`
	KeyResults []string `json:"key_results"`
}

type Task struct {
	Id              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	ProjectId       string   `json:"project_id,omitempty"`
	Dependencies    []string `json:"dependencies"`
	ComplexityScore float64  `json:"complexity_score"`
}

type Subtask struct {
	Id           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	ParentTaskId string `json:"parent_task_id"`
	Order        int    `json:"order"`
}

type Milestone struct {
	Id                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	TaskId             string   `json:"task_id"`
	Order              int      `json:"order"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

type Summary struct {
	WaypointsCount    int `json:"waypoints_count"`
	ProjectsCount     int `json:"projects_count"`
	TasksCount        int `json:"tasks_count"`
	SubtasksCount     int `json:"subtasks_count"`
	MilestonesCount   int `json:"milestones_count"`
	ComplexTasksCount int `json:"complex_tasks_count"`
}

type ParseResult struct {
	Summary    Summary     `json:"summary"`
	Waypoints  []Waypoint  `json:"waypoints"`
	Projects   []Project   `json:"projects"`
	Tasks      []Task      `json:"tasks"`
	Subtasks   []Subtask   `json:"subtasks"`
	Milestones []Milestone `json:"milestones"`
}

type ParserSettings struct {
	// StableIds derives ids from content alone, so re-parsing identical
	// text yields identical ids. When false, the current time is mixed in
	// and every parse yields fresh ids.
	StableIds bool

	// tasks scoring above this are decomposed into subtasks
	DecompositionThreshold float64

	// enrich tasks that have no explicit dependencies with the keyword
	// knowledge base
	InferMissingMetadata bool
}

func DefaultParserSettings() *ParserSettings {
	return &ParserSettings{
		StableIds:              true,
		DecompositionThreshold: 6.0,
		InferMissingMetadata:   false,
	}
}

type Parser struct {
	settings *ParserSettings

	waypoints  []Waypoint
	projects   []Project
	tasks      []Task
	subtasks   []Subtask
	milestones []Milestone
}

func NewParserWithDefaults() *Parser {
	return NewParser(DefaultParserSettings())
}

func NewParser(settings *ParserSettings) *Parser {
	return &Parser{
		settings: settings,
	}
}

// section labels scanned out of project and task bodies.
// matching is ordered: the first label found wins.
var dodLabels = []string{
	"Definition of Done:",
	"DoD:",
	"Completion Criteria:",
}

var dependencyLabels = []string{
	"Dependencies:",
	"Depends on:",
	"Prerequisites:",
	"Requires:",
}

var defaultDefinitionOfDone = []string{
	"All specified functionality implemented",
	"Tests written and passing",
	"Documentation updated",
	"Code reviewed and approved",
}

var complexityKeywords = []string{
	"integrate", "refactor", "architect", "optimize",
	"scale", "distributed", "concurrent", "security",
	"performance", "migration", "upgrade", "redesign",
}

// ParseMarkdown scans the text as an ordered sequence of lines, maintaining
// current waypoint and current project cursors. Heading depth strictly
// determines nesting: `##` starts a waypoint, `###` a project, `####` a task.
func (self *Parser) ParseMarkdown(content string) *ParseResult {
	self.waypoints = nil
	self.projects = nil
	self.tasks = nil
	self.subtasks = nil
	self.milestones = nil

	lines := strings.Split(content, "\n")
	currentWaypoint := -1
	currentProject := -1

	for i := 0; i < len(lines); i += 1 {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "## ") && !strings.HasPrefix(line, "###"):
			name := stripLabel(strings.TrimSpace(line[3:]), "Waypoint:", "WP:")
			self.waypoints = append(self.waypoints, Waypoint{
				Id:          self.generateId("waypoint_" + name),
				Name:        name,
				Description: fmt.Sprintf("Strategic checkpoint: %s", name),
				Order:       len(self.waypoints) + 1,
				ProjectIds:  []string{},
			})
			currentWaypoint = len(self.waypoints) - 1
			currentProject = -1

		case strings.HasPrefix(line, "### ") && !strings.HasPrefix(line, "####"):
			name := stripLabel(strings.TrimSpace(line[4:]), "Project:")
			body, next := collectUntilHeading(lines, i+1)

			waypointId := ""
			if 0 <= currentWaypoint {
				waypointId = self.waypoints[currentWaypoint].Id
			}
			project := Project{
				Id:               self.generateId("project_" + name),
				Name:             name,
				Description:      extractDescription(body),
				DefinitionOfDone: extractChecklist(body, dodLabels, defaultDefinitionOfDone),
				WaypointId:       waypointId,
				SuggestedOkrs:    suggestOkrs(name, body),
			}
			self.projects = append(self.projects, project)
			if 0 <= currentWaypoint {
				self.waypoints[currentWaypoint].ProjectIds = append(
					self.waypoints[currentWaypoint].ProjectIds,
					project.Id,
				)
			}
			currentProject = len(self.projects) - 1
			i = next - 1

		case strings.HasPrefix(line, "#### "):
			name := stripLabel(strings.TrimSpace(line[5:]), "Task:")
			body, next := collectUntilHeading(lines, i+1)

			projectId := ""
			if 0 <= currentProject {
				projectId = self.projects[currentProject].Id
			}
			task := Task{
				Id:           self.generateId(fmt.Sprintf("task_%s_%s", projectId, name)),
				Title:        name,
				Description:  extractDescription(body),
				ProjectId:    projectId,
				Dependencies: extractDependencies(body),
			}
			if self.settings.InferMissingMetadata && len(task.Dependencies) == 0 {
				inferred := InferTaskMetadata(task.Title, task.Description)
				task.Dependencies = inferred.Dependencies
			}
			self.tasks = append(self.tasks, task)
			i = next - 1
		}
	}

	self.analyzeTaskComplexity()
	self.generateSubtasks()
	self.generateMilestones()

	return self.compileResult()
}

func collectUntilHeading(lines []string, start int) (string, int) {
	var bodyLines []string
	i := start
	for i < len(lines) {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "#") {
			break
		}
		bodyLines = append(bodyLines, lines[i])
		i += 1
	}
	return strings.TrimSpace(strings.Join(bodyLines, "\n")), i
}

func stripLabel(text string, labels ...string) string {
	for _, label := range labels {
		if strings.HasPrefix(text, label) {
			return strings.TrimSpace(text[len(label):])
		}
	}
	return text
}

// findSection returns the raw text following the first matching label,
// up to a blank line, the next heading, or end of body.
func findSection(body string, labels []string) (string, bool) {
	for _, label := range labels {
		pattern := regexp.MustCompile(
			`(?is)(?:\*\*)?` + regexp.QuoteMeta(label) + `(?:\*\*)?(.*?)(?:\n\n|\n#|$)`,
		)
		if match := pattern.FindStringSubmatch(body); match != nil {
			return strings.TrimSpace(match[1]), true
		}
	}
	return "", false
}

var bulletItemPattern = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+\.)\s*(.+)`)

func listItems(sectionText string) []string {
	var items []string
	for _, match := range bulletItemPattern.FindAllStringSubmatch(sectionText, -1) {
		if text := strings.TrimSpace(match[1]); text != "" {
			items = append(items, text)
		}
	}
	return items
}

func extractChecklist(body string, labels []string, defaults []string) []string {
	if sectionText, ok := findSection(body, labels); ok {
		if items := listItems(sectionText); len(items) > 0 {
			return items
		}
	}
	return append([]string{}, defaults...)
}

func extractDependencies(body string) []string {
	sectionText, ok := findSection(body, dependencyLabels)
	if !ok {
		return nil
	}

	// inline format joins items with " - ",
	// e.g. "Soil testing - Permit approval"
	if strings.Contains(sectionText, " - ") {
		var items []string
		for _, item := range strings.Split(sectionText, " - ") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items
	}
	return listItems(sectionText)
}

var sectionLabelLinePattern = regexp.MustCompile(
	`(?is)(?:\*\*)?(?:Definition of Done:|DoD:|Completion Criteria:|Dependencies:|Depends on:|Prerequisites:|Requires:)(?:\*\*)?.*?(?:\n\n|\n#|$)`,
)

func extractDescription(body string) string {
	clean := sectionLabelLinePattern.ReplaceAllString(body, "")
	var kept []string
	for _, line := range strings.Split(clean, "\n") {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	description := strings.TrimSpace(strings.Join(kept, "\n"))
	if description == "" {
		return "No description provided"
	}
	return description
}

// fixed keyword lookup, not a generative step
func suggestOkrs(projectName string, body string) []Objective {
	bodyLower := strings.ToLower(body)
	var objectives []Objective

	if strings.Contains(bodyLower, "performance") {
		objectives = append(objectives, Objective{
			Objective: fmt.Sprintf("Optimize %s performance", projectName),
			KeyResults: []string{
				"Reduce processing time by 50%",
				"Handle 10x current load",
				"Achieve 99.9% uptime",
			},
		})
	}
	if strings.Contains(bodyLower, "user") || strings.Contains(bodyLower, "experience") {
		objectives = append(objectives, Objective{
			Objective: fmt.Sprintf("Enhance user experience in %s", projectName),
			KeyResults: []string{
				"Achieve 90% user satisfaction score",
				"Reduce user-reported issues by 75%",
				"Increase feature adoption by 50%",
			},
		})
	}
	if len(objectives) == 0 {
		objectives = append(objectives, Objective{
			Objective: fmt.Sprintf("Successfully deliver %s", projectName),
			KeyResults: []string{
				"Complete all defined tasks on schedule",
				"Meet all acceptance criteria",
				"Zero critical bugs in production",
			},
		})
	}
	return objectives
}

func (self *Parser) analyzeTaskComplexity() {
	for i := range self.tasks {
		task := &self.tasks[i]
		complexity := 3.0

		if 0 < len(task.Dependencies) {
			complexity += min(float64(len(task.Dependencies))*0.5, 2.0)
		}

		wordCount := len(strings.Fields(task.Description))
		if 100 < wordCount {
			complexity += 1.0
		}
		if 200 < wordCount {
			complexity += 1.0
		}

		descriptionLower := strings.ToLower(task.Description)
		for _, keyword := range complexityKeywords {
			if strings.Contains(descriptionLower, keyword) {
				complexity += 0.5
			}
		}

		task.ComplexityScore = min(complexity, 10.0)
	}
}

var subtaskTemplates = []struct {
	title       string
	description string
}{
	{"Research and Planning", "Research requirements and create implementation plan"},
	{"Setup and Configuration", "Set up development environment and initial configuration"},
	{"Core Implementation", "Implement main functionality"},
	{"Testing", "Write and execute tests"},
	{"Documentation", "Create or update documentation"},
	{"Review and Refinement", "Code review and refinements"},
}

func (self *Parser) generateSubtasks() {
	for i := range self.tasks {
		task := &self.tasks[i]
		if task.ComplexityScore <= self.settings.DecompositionThreshold {
			continue
		}
		count := min(int(task.ComplexityScore), len(subtaskTemplates))
		for j := 0; j < count; j += 1 {
			template := subtaskTemplates[j]
			self.subtasks = append(self.subtasks, Subtask{
				Id:           self.generateId(fmt.Sprintf("subtask_%s_%d", task.Id, j)),
				Title:        fmt.Sprintf("%s - %s", template.title, task.Title),
				Description:  template.description,
				ParentTaskId: task.Id,
				Order:        j + 1,
			})
		}
	}
}

var milestoneTemplates = []struct {
	title    string
	criteria []string
}{
	{"Initial Implementation", []string{
		"Basic functionality implemented",
		"Core logic in place",
		"Manual testing successful",
	}},
	{"Feature Complete", []string{
		"All requirements implemented",
		"Automated tests written",
		"Edge cases handled",
	}},
	{"Production Ready", []string{
		"Performance optimized",
		"Security review completed",
		"Documentation finalized",
	}},
}

func (self *Parser) generateMilestones() {
	for i := range self.tasks {
		task := &self.tasks[i]

		var count int
		switch {
		case task.ComplexityScore <= 3:
			count = 1
		case task.ComplexityScore <= 6:
			count = 2
		default:
			count = 3
		}

		for j := 0; j < count; j += 1 {
			template := milestoneTemplates[min(j, len(milestoneTemplates)-1)]
			self.milestones = append(self.milestones, Milestone{
				Id:                 self.generateId(fmt.Sprintf("milestone_%s_%d", task.Id, j)),
				Title:              fmt.Sprintf("%s - %s", template.title, task.Title),
				Description:        fmt.Sprintf("Milestone %d of %d for task completion", j+1, count),
				TaskId:             task.Id,
				Order:              j + 1,
				AcceptanceCriteria: template.criteria,
			})
		}
	}
}

func (self *Parser) generateId(base string) string {
	hashInput := base
	if !self.settings.StableIds {
		hashInput = fmt.Sprintf("%s_%s", base, time.Now().Format(time.RFC3339Nano))
	}
	sum := md5.Sum([]byte(hashInput))
	return hex.EncodeToString(sum[:])[:12]
}

func (self *Parser) compileResult() *ParseResult {
	complexCount := 0
	for _, task := range self.tasks {
		if self.settings.DecompositionThreshold < task.ComplexityScore {
			complexCount += 1
		}
	}

	result := &ParseResult{
		Summary: Summary{
			WaypointsCount:    len(self.waypoints),
			ProjectsCount:     len(self.projects),
			TasksCount:        len(self.tasks),
			SubtasksCount:     len(self.subtasks),
			MilestonesCount:   len(self.milestones),
			ComplexTasksCount: complexCount,
		},
		Waypoints:  self.waypoints,
		Projects:   self.projects,
		Tasks:      self.tasks,
		Subtasks:   self.subtasks,
		Milestones: self.milestones,
	}
	if result.Waypoints == nil {
		result.Waypoints = []Waypoint{}
	}
	if result.Projects == nil {
		result.Projects = []Project{}
	}
	if result.Tasks == nil {
		result.Tasks = []Task{}
	}
	if result.Subtasks == nil {
		result.Subtasks = []Subtask{}
	}
	if result.Milestones == nil {
		result.Milestones = []Milestone{}
	}
	return result
}
