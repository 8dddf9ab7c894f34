// Package store is the sqlite-backed task/project store behind the
// realtime layer and the plan import flow.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/villagaiaimpacthub/hive"
	"github.com/villagaiaimpacthub/hive/plan"
)

const TaskStatusAvailable = "available"
const TaskStatusInProgress = "in_progress"
const TaskStatusCompleted = "completed"

type Store struct {
	db *sql.DB
}

// NewStore opens or creates the database at `path`.
// `":memory:"` opens a private in-memory database, used by tests.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite serializes on a single connection.
	// one writer avoids SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	store := &Store{
		db: db,
	}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (self *Store) Close() error {
	return self.db.Close()
}

func (self *Store) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			role TEXT NOT NULL DEFAULT '',
			is_online INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS waypoints (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			ord INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			waypoint_id TEXT,
			definition_of_done TEXT NOT NULL DEFAULT '[]',
			suggested_okrs TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'available',
			owner_id TEXT,
			assignee_id TEXT,
			project_id TEXT,
			plan_task_id TEXT,
			dependencies TEXT NOT NULL DEFAULT '[]',
			complexity_score REAL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subtasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			parent_task_id TEXT NOT NULL,
			ord INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS milestones (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			task_id TEXT NOT NULL,
			ord INTEGER NOT NULL DEFAULT 0,
			acceptance_criteria TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_task ON chat_messages(task_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id)`,
	}
	for _, statement := range schema {
		if _, err := self.db.Exec(statement); err != nil {
			return err
		}
	}
	return nil
}

func (self *Store) CreateUser(ctx context.Context, email string, role string) (*hive.User, error) {
	user := &hive.User{
		Id:    hive.NewId(),
		Email: email,
		Role:  role,
	}
	_, err := self.db.ExecContext(
		ctx,
		`INSERT INTO users (id, email, role, is_online) VALUES (?, ?, ?, 0)`,
		user.Id.String(), email, role,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (self *Store) GetUser(ctx context.Context, userId hive.Id) (*hive.User, error) {
	row := self.db.QueryRowContext(
		ctx,
		`SELECT id, email, role, is_online FROM users WHERE id = ?`,
		userId.String(),
	)
	var idStr string
	user := &hive.User{}
	if err := row.Scan(&idStr, &user.Email, &user.Role, &user.IsOnline); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hive.ErrNotFound
		}
		return nil, err
	}
	id, err := hive.ParseId(idStr)
	if err != nil {
		return nil, err
	}
	user.Id = id
	return user, nil
}

func (self *Store) SetUserOnline(ctx context.Context, userId hive.Id, online bool) error {
	result, err := self.db.ExecContext(
		ctx,
		`UPDATE users SET is_online = ? WHERE id = ?`,
		online, userId.String(),
	)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return hive.ErrNotFound
	}
	return nil
}

func (self *Store) CreateTask(ctx context.Context, title string, description string, ownerId hive.Id) (*hive.Task, error) {
	task := &hive.Task{
		Id:          hive.NewId(),
		Title:       title,
		Description: description,
		Status:      TaskStatusAvailable,
		OwnerId:     ownerId,
	}
	_, err := self.db.ExecContext(
		ctx,
		`INSERT INTO tasks (id, title, description, status, owner_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
		task.Id.String(), title, description, task.Status, ownerId.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (self *Store) GetTask(ctx context.Context, taskId hive.Id) (*hive.Task, error) {
	row := self.db.QueryRowContext(
		ctx,
		`SELECT id, title, description, status, owner_id, assignee_id FROM tasks WHERE id = ?`,
		taskId.String(),
	)
	var idStr string
	var ownerIdStr sql.NullString
	var assigneeIdStr sql.NullString
	task := &hive.Task{}
	if err := row.Scan(&idStr, &task.Title, &task.Description, &task.Status, &ownerIdStr, &assigneeIdStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hive.ErrNotFound
		}
		return nil, err
	}
	id, err := hive.ParseId(idStr)
	if err != nil {
		return nil, err
	}
	task.Id = id
	if ownerIdStr.Valid {
		ownerId, err := hive.ParseId(ownerIdStr.String)
		if err != nil {
			return nil, err
		}
		task.OwnerId = ownerId
	}
	if assigneeIdStr.Valid {
		assigneeId, err := hive.ParseId(assigneeIdStr.String)
		if err != nil {
			return nil, err
		}
		task.AssigneeId = &assigneeId
	}
	return task, nil
}

func (self *Store) SetTaskStatus(ctx context.Context, taskId hive.Id, status string) error {
	result, err := self.db.ExecContext(
		ctx,
		`UPDATE tasks SET status = ? WHERE id = ?`,
		status, taskId.String(),
	)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return hive.ErrNotFound
	}
	return nil
}

func (self *Store) SetTaskAssignee(ctx context.Context, taskId hive.Id, assigneeId *hive.Id) error {
	var assigneeIdStr any
	if assigneeId != nil {
		assigneeIdStr = assigneeId.String()
	}
	result, err := self.db.ExecContext(
		ctx,
		`UPDATE tasks SET assignee_id = ? WHERE id = ?`,
		assigneeIdStr, taskId.String(),
	)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return hive.ErrNotFound
	}
	return nil
}

func (self *Store) CreateTaskChatMessage(ctx context.Context, taskId hive.Id, senderId hive.Id, content string) error {
	_, err := self.db.ExecContext(
		ctx,
		`INSERT INTO chat_messages (id, task_id, sender_id, content, created_at)
			VALUES (?, ?, ?, ?, ?)`,
		hive.NewId().String(), taskId.String(), senderId.String(), content,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ImportPlan persists a confirmed plan preview. Waypoints, projects,
// subtasks and milestones keep the parser ids. Tasks get fresh store ids
// with the parser id kept in `plan_task_id`, and start unowned and
// available to claim.
func (self *Store) ImportPlan(ctx context.Context, result *plan.ParseResult) error {
	tx, err := self.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, waypoint := range result.Waypoints {
		_, err := tx.ExecContext(
			ctx,
			`INSERT OR REPLACE INTO waypoints (id, name, description, ord) VALUES (?, ?, ?, ?)`,
			waypoint.Id, waypoint.Name, waypoint.Description, waypoint.Order,
		)
		if err != nil {
			return err
		}
	}

	for _, project := range result.Projects {
		dod, err := json.Marshal(project.DefinitionOfDone)
		if err != nil {
			return err
		}
		okrs, err := json.Marshal(project.SuggestedOkrs)
		if err != nil {
			return err
		}
		var waypointId any
		if project.WaypointId != "" {
			waypointId = project.WaypointId
		}
		_, err = tx.ExecContext(
			ctx,
			`INSERT OR REPLACE INTO projects (id, name, description, waypoint_id, definition_of_done, suggested_okrs)
				VALUES (?, ?, ?, ?, ?, ?)`,
			project.Id, project.Name, project.Description, waypointId, string(dod), string(okrs),
		)
		if err != nil {
			return err
		}
	}

	for _, task := range result.Tasks {
		dependencies, err := json.Marshal(task.Dependencies)
		if err != nil {
			return err
		}
		var projectId any
		if task.ProjectId != "" {
			projectId = task.ProjectId
		}
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO tasks (id, title, description, status, project_id, plan_task_id, dependencies, complexity_score, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			hive.NewId().String(), task.Title, task.Description, TaskStatusAvailable,
			projectId, task.Id, string(dependencies), task.ComplexityScore,
			time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return err
		}
	}

	for _, subtask := range result.Subtasks {
		_, err := tx.ExecContext(
			ctx,
			`INSERT OR REPLACE INTO subtasks (id, title, description, parent_task_id, ord) VALUES (?, ?, ?, ?, ?)`,
			subtask.Id, subtask.Title, subtask.Description, subtask.ParentTaskId, subtask.Order,
		)
		if err != nil {
			return err
		}
	}

	for _, milestone := range result.Milestones {
		criteria, err := json.Marshal(milestone.AcceptanceCriteria)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(
			ctx,
			`INSERT OR REPLACE INTO milestones (id, title, description, task_id, ord, acceptance_criteria)
				VALUES (?, ?, ?, ?, ?, ?)`,
			milestone.Id, milestone.Title, milestone.Description, milestone.TaskId, milestone.Order, string(criteria),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CountPlanEntities reports how many rows each plan table holds.
// diagnostics for hivectl and tests
func (self *Store) CountPlanEntities(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	for _, table := range []string{"waypoints", "projects", "tasks", "subtasks", "milestones"} {
		row := self.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
		var count int
		if err := row.Scan(&count); err != nil {
			return nil, err
		}
		counts[table] = count
	}
	return counts, nil
}
