package plan

import (
	"slices"
	"strings"

	"golang.org/x/exp/maps"
)

// best-effort enrichment for tasks whose bodies carry no explicit
// skills/dependencies/definition of done. A small keyword knowledge base
// supplies plausible defaults; the best-scoring match wins.

type InferredMetadata struct {
	Category         string   `json:"category"`
	Dependencies     []string `json:"dependencies"`
	RequiredSkills   []string `json:"required_skills"`
	SuccessMetrics   []string `json:"success_metrics"`
	Deliverables     []string `json:"deliverables"`
	DefinitionOfDone string   `json:"definition_of_done,omitempty"`
}

type taskKnowledge struct {
	category         string
	dependencies     []string
	requiredSkills   []string
	successMetrics   []string
	deliverables     []string
	definitionOfDone string
}

var taskKnowledgeBase = map[string]taskKnowledge{
	"jwt": {
		category:         "Authentication & Security",
		dependencies:     []string{"Database schema design", "User model implementation", "Security configuration"},
		requiredSkills:   []string{"Backend development", "JWT libraries", "Security best practices", "API design"},
		successMetrics:   []string{"Authentication response time < 100ms", "JWT token validation accuracy 100%", "Security audit pass", "Zero authentication vulnerabilities"},
		deliverables:     []string{"JWT authentication middleware", "Token refresh endpoint", "Security documentation", "Unit and integration tests"},
		definitionOfDone: "JWT authentication system implemented with secure token generation, validation, refresh capabilities, and comprehensive security measures including rate limiting and proper error handling",
	},
	"authentication": {
		category:       "Authentication & Security",
		dependencies:   []string{"Database setup", "User registration system"},
		requiredSkills: []string{"Backend development", "Security protocols", "Database design"},
		successMetrics: []string{"Login success rate > 99%", "Password security compliance", "Session management"},
		deliverables:   []string{"Authentication system", "Login/logout endpoints", "Security documentation"},
	},
	"rbac": {
		category:       "Authorization & Access Control",
		dependencies:   []string{"User authentication system", "Role definition"},
		requiredSkills: []string{"Access control design", "Permission systems", "Security modeling"},
		successMetrics: []string{"Role assignment accuracy", "Permission enforcement", "Access audit compliance"},
		deliverables:   []string{"Role management system", "Permission matrix", "Access control middleware"},
	},
	"task management": {
		category:       "Core Features",
		dependencies:   []string{"User system", "Database schema"},
		requiredSkills: []string{"Full-stack development", "UI/UX design", "Database operations"},
		successMetrics: []string{"Task creation speed", "Assignment accuracy", "Status tracking reliability"},
		deliverables:   []string{"Task CRUD operations", "Assignment system", "Status management"},
	},
	"api": {
		category:       "Backend Development",
		dependencies:   []string{"Database models", "Authentication system"},
		requiredSkills: []string{"RESTful API design", "HTTP protocols", "API documentation"},
		successMetrics: []string{"API response time", "Error handling coverage", "Documentation completeness"},
		deliverables:   []string{"API endpoints", "OpenAPI documentation", "Error handling system"},
	},
	"database": {
		category:       "Data & Infrastructure",
		dependencies:   []string{"Database installation", "Schema design"},
		requiredSkills: []string{"Database design", "SQL/NoSQL", "Data modeling"},
		successMetrics: []string{"Query performance", "Data integrity", "Backup reliability"},
		deliverables:   []string{"Database schema", "Migration scripts", "Data models"},
	},
	"frontend": {
		category:       "User Interface",
		dependencies:   []string{"API endpoints", "Design system"},
		requiredSkills: []string{"Frontend frameworks", "UI/UX design", "Responsive design"},
		successMetrics: []string{"Page load time", "User experience score", "Mobile compatibility"},
		deliverables:   []string{"User interfaces", "Component library", "Style guide"},
	},
	"websocket": {
		category:       "Real-time Features",
		dependencies:   []string{"Backend infrastructure", "Authentication"},
		requiredSkills: []string{"WebSocket protocols", "Real-time architecture", "Event handling"},
		successMetrics: []string{"Message delivery time", "Connection stability", "Concurrent user support"},
		deliverables:   []string{"WebSocket server", "Real-time client", "Message handling system"},
	},
	"chat": {
		category:       "Communication Features",
		dependencies:   []string{"User system", "Real-time infrastructure"},
		requiredSkills: []string{"Real-time messaging", "UI design", "Message persistence"},
		successMetrics: []string{"Message delivery rate", "Real-time latency", "Message history accuracy"},
		deliverables:   []string{"Chat interface", "Message storage", "Notification system"},
	},
	"file upload": {
		category:       "File Management",
		dependencies:   []string{"Storage infrastructure", "Security validation"},
		requiredSkills: []string{"File handling", "Security validation", "Storage systems"},
		successMetrics: []string{"Upload success rate", "File integrity", "Security validation"},
		deliverables:   []string{"Upload system", "File validation", "Storage management"},
	},
}

// InferTaskMetadata matches the task title and description against the
// knowledge base. The primary match supplies category and definition of
// done; list fields are merged across all matches with duplicates removed.
func InferTaskMetadata(title string, description string) *InferredMetadata {
	contentLower := strings.ToLower(title + " " + description)

	type match struct {
		keyword   string
		knowledge taskKnowledge
	}
	// deterministic match order regardless of map iteration
	keywords := maps.Keys(taskKnowledgeBase)
	slices.Sort(keywords)

	var matches []match
	for _, keyword := range keywords {
		if strings.Contains(contentLower, keyword) {
			matches = append(matches, match{keyword, taskKnowledgeBase[keyword]})
		}
	}

	if len(matches) == 0 {
		return genericInference()
	}

	// prefer longer keywords and entries with richer metadata
	score := func(m match) int {
		s := len(m.keyword)
		if m.knowledge.definitionOfDone != "" {
			s += 10
		}
		if 2 < len(m.knowledge.dependencies) {
			s += 5
		}
		if 2 < len(m.knowledge.requiredSkills) {
			s += 5
		}
		return s
	}

	best := matches[0]
	for _, m := range matches[1:] {
		if score(best) < score(m) {
			best = m
		}
	}

	inferred := &InferredMetadata{
		Category:         best.knowledge.category,
		DefinitionOfDone: best.knowledge.definitionOfDone,
	}
	for _, m := range matches {
		inferred.Dependencies = appendUnique(inferred.Dependencies, m.knowledge.dependencies...)
		inferred.RequiredSkills = appendUnique(inferred.RequiredSkills, m.knowledge.requiredSkills...)
		inferred.SuccessMetrics = appendUnique(inferred.SuccessMetrics, m.knowledge.successMetrics...)
		inferred.Deliverables = appendUnique(inferred.Deliverables, m.knowledge.deliverables...)
	}
	return inferred
}

func genericInference() *InferredMetadata {
	return &InferredMetadata{
		Category:         "General Development",
		Dependencies:     []string{"Requirements analysis", "Technical planning"},
		RequiredSkills:   []string{"Software development", "Problem solving"},
		SuccessMetrics:   []string{"Feature completeness", "Code quality", "Testing coverage"},
		Deliverables:     []string{"Working implementation", "Documentation", "Tests"},
		DefinitionOfDone: "Feature implemented, tested, documented, and reviewed according to project standards",
	}
}

func appendUnique(items []string, more ...string) []string {
	for _, item := range more {
		seen := false
		for _, existing := range items {
			if existing == item {
				seen = true
				break
			}
		}
		if !seen {
			items = append(items, item)
		}
	}
	return items
}
