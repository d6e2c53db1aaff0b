package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// queryer is the subset shared by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlPort implements Port over either the database or an open transaction.
type sqlPort struct {
	q queryer
}

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	sqlPort
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/nxflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{sqlPort: sqlPort{q: db}, db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// SchemaVersion returns the highest applied migration.
func (s *LibSQLStore) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, s.db)
}

// WithTx runs fn inside a database transaction.
func (s *LibSQLStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Port) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeFailed("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlPort{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeFailed("commit tx", err)
	}
	return nil
}

// MutateVariables runs the read-modify-write in its own transaction when called
// outside WithTx.
func (s *LibSQLStore) MutateVariables(ctx context.Context, instanceID string, fn func(vars map[string]any)) (map[string]any, error) {
	var out map[string]any
	err := s.WithTx(ctx, func(ctx context.Context, tx Port) error {
		var err error
		out, err = tx.MutateVariables(ctx, instanceID, fn)
		return err
	})
	return out, err
}

// AppendEvent assigns the next per-instance sequence inside its own transaction
// when called outside WithTx.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	return s.WithTx(ctx, func(ctx context.Context, tx Port) error {
		return tx.AppendEvent(ctx, event)
	})
}

// --- Processes ---

func (s *LibSQLStore) SaveProcess(ctx context.Context, p *Process) error {
	p.DeployedAt = timeOrNow(p.DeployedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wf_process (id, name, source, deployed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, source=excluded.source, deployed_at=excluded.deployed_at`,
		p.ID, nullStr(p.Name), nullStr(p.Source), p.DeployedAt,
	)
	if err != nil {
		return storeFailed("save process", err)
	}
	return nil
}

func (s *LibSQLStore) GetProcess(ctx context.Context, id string) (*Process, error) {
	p := &Process{}
	var name, source sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, source, deployed_at FROM wf_process WHERE id = ?`, id,
	).Scan(&p.ID, &name, &source, &p.DeployedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("process", id)
	}
	if err != nil {
		return nil, storeFailed("get process", err)
	}
	p.Name = name.String
	p.Source = source.String
	return p, nil
}

func (s *LibSQLStore) ListProcesses(ctx context.Context) ([]*Process, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, source, deployed_at FROM wf_process ORDER BY id`)
	if err != nil {
		return nil, storeFailed("list processes", err)
	}
	defer rows.Close()

	var out []*Process
	for rows.Next() {
		p := &Process{}
		var name, source sql.NullString
		if err := rows.Scan(&p.ID, &name, &source, &p.DeployedAt); err != nil {
			return nil, storeFailed("scan process", err)
		}
		p.Name = name.String
		p.Source = source.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Queries ---

func (s *LibSQLStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error) {
	var where []string
	var args []any

	if filter.ProcessID != "" {
		where = append(where, "process_id = ?")
		args = append(args, filter.ProcessID)
	}
	if filter.BusinessKey != "" {
		where = append(where, "business_key = ?")
		args = append(args, filter.BusinessKey)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + instanceColumns + ` FROM wf_instance`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeFailed("list instances", err)
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	var where []string
	var args []any

	if filter.InstanceID != "" {
		where = append(where, "instance_id = ?")
		args = append(args, filter.InstanceID)
	}
	if filter.Assignee != "" {
		where = append(where, "assignee = ?")
		args = append(args, filter.Assignee)
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}

	query := `SELECT ` + taskColumns + ` FROM wf_task t`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.created_at, t.rowid"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return queryTasks(ctx, s.db, query, args...)
}

// ClaimableTasks lists open, unassigned tasks the user may claim: tasks naming the
// user or one of the groups as candidates, and tasks with no candidates at all.
func (s *LibSQLStore) ClaimableTasks(ctx context.Context, user string, groups []string) ([]*Task, error) {
	clauses := []string{`NOT EXISTS (SELECT 1 FROM wf_task_candidate c WHERE c.task_id = t.id)`}
	args := []any{string(schema.TaskStateOpen)}

	if user != "" {
		clauses = append(clauses,
			`EXISTS (SELECT 1 FROM wf_task_candidate c WHERE c.task_id = t.id AND c.kind = 'user' AND c.value = ?)`)
		args = append(args, user)
	}
	if len(groups) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(groups)), ",")
		clauses = append(clauses,
			`EXISTS (SELECT 1 FROM wf_task_candidate c WHERE c.task_id = t.id AND c.kind = 'group' AND c.value IN (`+marks+`))`)
		for _, g := range groups {
			args = append(args, g)
		}
	}

	query := `SELECT ` + taskColumns + ` FROM wf_task t
		WHERE t.state = ? AND t.assignee IS NULL AND (` + strings.Join(clauses, " OR ") + `)
		ORDER BY t.created_at, t.rowid`
	return queryTasks(ctx, s.db, query, args...)
}

func (s *LibSQLStore) GetEvents(ctx context.Context, instanceID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, instance_id, node_id, token_id, event_type, payload, timestamp, sequence
		 FROM wf_event WHERE instance_id = ? AND sequence > ? ORDER BY sequence ASC`,
		instanceID, since,
	)
	if err != nil {
		return nil, storeFailed("get events", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// --- Task assignment ---

// ClaimTask runs the conditional claim in its own transaction when called
// outside WithTx.
func (s *LibSQLStore) ClaimTask(ctx context.Context, id, user string) (*Task, error) {
	var out *Task
	err := s.WithTx(ctx, func(ctx context.Context, tx Port) error {
		var err error
		out, err = tx.ClaimTask(ctx, id, user)
		return err
	})
	return out, err
}

func (s *LibSQLStore) UnclaimTask(ctx context.Context, id string) (*Task, error) {
	var out *Task
	err := s.WithTx(ctx, func(ctx context.Context, tx Port) error {
		var err error
		out, err = tx.UnclaimTask(ctx, id)
		return err
	})
	return out, err
}

func (s *LibSQLStore) SetTaskDueDate(ctx context.Context, id string, due *time.Time) (*Task, error) {
	var out *Task
	err := s.WithTx(ctx, func(ctx context.Context, tx Port) error {
		p := tx.(*sqlPort)
		res, err := p.q.ExecContext(ctx, `UPDATE wf_task SET due_at = ? WHERE id = ?`, nullTime(due), id)
		if err != nil {
			return storeFailed("set due date", err)
		}
		if err := checkRowsAffected(res, "task", id); err != nil {
			return err
		}
		out, err = p.GetTask(ctx, id)
		return err
	})
	return out, err
}

// --- Port: instances ---

const instanceColumns = `id, process_id, business_key, status, variables, created_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(r rowScanner) (*Instance, error) {
	inst := &Instance{}
	var (
		businessKey sql.NullString
		status      string
		varsJSON    string
		completedAt sql.NullTime
	)
	if err := r.Scan(&inst.ID, &inst.ProcessID, &businessKey, &status, &varsJSON, &inst.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	inst.BusinessKey = businessKey.String
	inst.Status = schema.InstanceStatus(status)
	vars, err := decodeVars(varsJSON)
	if err != nil {
		return nil, err
	}
	inst.Variables = vars
	if completedAt.Valid {
		inst.CompletedAt = &completedAt.Time
	}
	return inst, nil
}

func (p *sqlPort) CreateInstance(ctx context.Context, processID, businessKey string, vars map[string]any) (*Instance, error) {
	raw, err := encodeVars(vars)
	if err != nil {
		return nil, err
	}
	stored, err := decodeVars(raw)
	if err != nil {
		return nil, err
	}
	inst := &Instance{
		ID:          uuid.NewString(),
		ProcessID:   processID,
		BusinessKey: businessKey,
		Status:      schema.InstanceStatusRunning,
		Variables:   stored,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = p.q.ExecContext(ctx,
		`INSERT INTO wf_instance (id, process_id, business_key, status, variables, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.ProcessID, nullStr(inst.BusinessKey), string(inst.Status), raw, inst.CreatedAt,
	)
	if err != nil {
		return nil, storeFailed("create instance", err)
	}
	return inst, nil
}

func (p *sqlPort) GetInstance(ctx context.Context, id string) (*Instance, error) {
	inst, err := scanInstance(p.q.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM wf_instance WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("instance", id)
	}
	if err != nil {
		return nil, storeFailed("get instance", err)
	}
	return inst, nil
}

func (p *sqlPort) CompleteInstance(ctx context.Context, id string) error {
	res, err := p.q.ExecContext(ctx,
		`UPDATE wf_instance SET status = ?, completed_at = COALESCE(completed_at, ?) WHERE id = ?`,
		string(schema.InstanceStatusCompleted), time.Now().UTC(), id,
	)
	if err != nil {
		return storeFailed("complete instance", err)
	}
	return checkRowsAffected(res, "instance", id)
}

func (p *sqlPort) MutateVariables(ctx context.Context, instanceID string, fn func(vars map[string]any)) (map[string]any, error) {
	var varsJSON string
	err := p.q.QueryRowContext(ctx, `SELECT variables FROM wf_instance WHERE id = ?`, instanceID).Scan(&varsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("instance", instanceID)
	}
	if err != nil {
		return nil, storeFailed("load variables", err)
	}
	vars, err := decodeVars(varsJSON)
	if err != nil {
		return nil, err
	}

	fn(vars)

	raw, err := encodeVars(vars)
	if err != nil {
		return nil, err
	}
	if _, err := p.q.ExecContext(ctx, `UPDATE wf_instance SET variables = ? WHERE id = ?`, raw, instanceID); err != nil {
		return nil, storeFailed("save variables", err)
	}
	return decodeVars(raw)
}

// --- Port: tokens ---

func (p *sqlPort) CreateToken(ctx context.Context, instanceID, nodeID string) (*Token, error) {
	tok := &Token{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		NodeID:     nodeID,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO wf_token (id, instance_id, node_id, active, created_at) VALUES (?, ?, ?, 1, ?)`,
		tok.ID, tok.InstanceID, tok.NodeID, tok.CreatedAt,
	)
	if err != nil {
		return nil, storeFailed("create token", err)
	}
	return tok, nil
}

func (p *sqlPort) MoveToken(ctx context.Context, tokenID, nodeID string) error {
	res, err := p.q.ExecContext(ctx, `UPDATE wf_token SET node_id = ? WHERE id = ? AND active = 1`, nodeID, tokenID)
	if err != nil {
		return storeFailed("move token", err)
	}
	return checkRowsAffected(res, "active token", tokenID)
}

func (p *sqlPort) ConsumeToken(ctx context.Context, tokenID string) error {
	res, err := p.q.ExecContext(ctx, `UPDATE wf_token SET active = 0 WHERE id = ?`, tokenID)
	if err != nil {
		return storeFailed("consume token", err)
	}
	return checkRowsAffected(res, "token", tokenID)
}

func (p *sqlPort) ActiveTokens(ctx context.Context, instanceID string) ([]*Token, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT id, instance_id, node_id, created_at FROM wf_token
		 WHERE instance_id = ? AND active = 1 ORDER BY rowid`, instanceID)
	if err != nil {
		return nil, storeFailed("list tokens", err)
	}
	defer rows.Close()

	var out []*Token
	for rows.Next() {
		tok := &Token{Active: true}
		if err := rows.Scan(&tok.ID, &tok.InstanceID, &tok.NodeID, &tok.CreatedAt); err != nil {
			return nil, storeFailed("scan token", err)
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

// --- Port: joins ---

// IncrementJoin records one arrival at a join and returns the new count in a
// single statement.
func (p *sqlPort) IncrementJoin(ctx context.Context, instanceID, nodeID string) (int, error) {
	var n int
	err := p.q.QueryRowContext(ctx,
		`INSERT INTO wf_join (instance_id, node_id, arrivals) VALUES (?, ?, 1)
		 ON CONFLICT(instance_id, node_id) DO UPDATE SET arrivals = arrivals + 1
		 RETURNING arrivals`,
		instanceID, nodeID,
	).Scan(&n)
	if err != nil {
		return 0, storeFailed("increment join", err)
	}
	return n, nil
}

func (p *sqlPort) ResetJoin(ctx context.Context, instanceID, nodeID string) error {
	_, err := p.q.ExecContext(ctx,
		`DELETE FROM wf_join WHERE instance_id = ? AND node_id = ?`, instanceID, nodeID)
	if err != nil {
		return storeFailed("reset join", err)
	}
	return nil
}

// --- Port: tasks ---

const taskColumns = `t.id, t.instance_id, t.node_id, t.name, t.form_key, t.state, t.assignee, t.created_at, t.due_at, t.completed_at`

func (p *sqlPort) CreateTask(ctx context.Context, nt NewTask) (*Task, error) {
	task := &Task{
		ID:              uuid.NewString(),
		InstanceID:      nt.InstanceID,
		NodeID:          nt.NodeID,
		Name:            nt.Name,
		FormKey:         nt.FormKey,
		State:           schema.TaskStateOpen,
		CandidateUsers:  nt.CandidateUsers,
		CandidateGroups: nt.CandidateGroups,
		CreatedAt:       time.Now().UTC(),
	}
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO wf_task (id, instance_id, node_id, name, form_key, state, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.InstanceID, task.NodeID, task.Name, nullStr(task.FormKey), string(task.State), task.CreatedAt,
	)
	if err != nil {
		return nil, storeFailed("create task", err)
	}
	for kind, values := range map[string][]string{"user": nt.CandidateUsers, "group": nt.CandidateGroups} {
		for _, v := range values {
			if _, err := p.q.ExecContext(ctx,
				`INSERT OR IGNORE INTO wf_task_candidate (task_id, kind, value) VALUES (?, ?, ?)`,
				task.ID, kind, v,
			); err != nil {
				return nil, storeFailed("add task candidate", err)
			}
		}
	}
	return task, nil
}

func (p *sqlPort) GetTask(ctx context.Context, id string) (*Task, error) {
	tasks, err := queryTasks(ctx, p.q, `SELECT `+taskColumns+` FROM wf_task t WHERE t.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, storeNotFound("task", id)
	}
	return tasks[0], nil
}

// CompleteTask closes an open or assigned task. Completing a task twice is a conflict.
func (p *sqlPort) CompleteTask(ctx context.Context, id string) error {
	res, err := p.q.ExecContext(ctx,
		`UPDATE wf_task SET state = ?, completed_at = ? WHERE id = ? AND state IN (?, ?)`,
		string(schema.TaskStateCompleted), time.Now().UTC(), id,
		string(schema.TaskStateOpen), string(schema.TaskStateAssigned),
	)
	if err != nil {
		return storeFailed("complete task", err)
	}
	return p.checkTaskTransition(ctx, res, id, "completed")
}

func (p *sqlPort) ClaimTask(ctx context.Context, id, user string) (*Task, error) {
	res, err := p.q.ExecContext(ctx,
		`UPDATE wf_task SET state = ?, assignee = ? WHERE id = ? AND state = ? AND assignee IS NULL`,
		string(schema.TaskStateAssigned), user, id, string(schema.TaskStateOpen),
	)
	if err != nil {
		return nil, storeFailed("claim task", err)
	}
	if err := p.checkTaskTransition(ctx, res, id, "claimed"); err != nil {
		return nil, err
	}
	return p.GetTask(ctx, id)
}

func (p *sqlPort) UnclaimTask(ctx context.Context, id string) (*Task, error) {
	res, err := p.q.ExecContext(ctx,
		`UPDATE wf_task SET state = ?, assignee = NULL WHERE id = ? AND state = ?`,
		string(schema.TaskStateOpen), id, string(schema.TaskStateAssigned),
	)
	if err != nil {
		return nil, storeFailed("unclaim task", err)
	}
	if err := p.checkTaskTransition(ctx, res, id, "unclaimed"); err != nil {
		return nil, err
	}
	return p.GetTask(ctx, id)
}

func (p *sqlPort) HasOpenTasks(ctx context.Context, instanceID string) (bool, error) {
	var n int
	err := p.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wf_task WHERE instance_id = ? AND state IN (?, ?)`,
		instanceID, string(schema.TaskStateOpen), string(schema.TaskStateAssigned),
	).Scan(&n)
	if err != nil {
		return false, storeFailed("count open tasks", err)
	}
	return n > 0, nil
}

// checkTaskTransition turns a conditional update that touched no rows into
// NOT_FOUND when the task is missing and CONFLICT when it is in the wrong state.
func (p *sqlPort) checkTaskTransition(ctx context.Context, res sql.Result, id, verb string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeFailed("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	var state string
	err = p.q.QueryRowContext(ctx, `SELECT state FROM wf_task WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return storeNotFound("task", id)
	}
	if err != nil {
		return storeFailed("read task state", err)
	}
	return taskConflict(id, verb, schema.TaskState(state))
}

// queryTasks scans the task rows, closes the cursor, then loads candidates. The
// cursor must be closed first because the pool holds a single connection.
func queryTasks(ctx context.Context, q queryer, query string, args ...any) ([]*Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeFailed("query tasks", err)
	}
	var tasks []*Task
	for rows.Next() {
		t := &Task{}
		var (
			formKey, assignee  sql.NullString
			state              string
			dueAt, completedAt sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.InstanceID, &t.NodeID, &t.Name, &formKey, &state, &assignee,
			&t.CreatedAt, &dueAt, &completedAt); err != nil {
			rows.Close()
			return nil, storeFailed("scan task", err)
		}
		t.FormKey = formKey.String
		t.Assignee = assignee.String
		t.State = schema.TaskState(state)
		if dueAt.Valid {
			t.DueAt = &dueAt.Time
		}
		if completedAt.Valid {
			t.CompletedAt = &completedAt.Time
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storeFailed("iterate tasks", err)
	}
	rows.Close()

	for _, t := range tasks {
		if err := loadCandidates(ctx, q, t); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func loadCandidates(ctx context.Context, q queryer, t *Task) error {
	rows, err := q.QueryContext(ctx,
		`SELECT kind, value FROM wf_task_candidate WHERE task_id = ? ORDER BY rowid`, t.ID)
	if err != nil {
		return storeFailed("load candidates", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return storeFailed("scan candidate", err)
		}
		switch kind {
		case "user":
			t.CandidateUsers = append(t.CandidateUsers, value)
		case "group":
			t.CandidateGroups = append(t.CandidateGroups, value)
		}
	}
	return rows.Err()
}

// --- Port: history ---

// AppendEvent assigns the next per-instance sequence number and inserts the event.
func (p *sqlPort) AppendEvent(ctx context.Context, event *Event) error {
	var seq int64
	err := p.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM wf_event WHERE instance_id = ?`, event.InstanceID,
	).Scan(&seq)
	if err != nil {
		return storeFailed("next event sequence", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := p.q.ExecContext(ctx,
		`INSERT INTO wf_event (instance_id, node_id, token_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.InstanceID, nullStr(event.NodeID), nullStr(event.TokenID), event.Type,
		nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return storeFailed("insert event", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var nodeID, tokenID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.InstanceID, &nodeID, &tokenID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, storeFailed("scan event", err)
		}
		e.NodeID = nodeID.String
		e.TokenID = tokenID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeFailed(op string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func taskConflict(id, verb string, state schema.TaskState) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeConflict, "task %q cannot be %s in state %s", id, verb, state).
		WithDetails(map[string]any{"task_id": id, "state": string(state)})
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeFailed("rows affected", err)
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func encodeVars(vars map[string]any) (string, error) {
	if len(vars) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(vars)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "variables are not JSON-encodable: %s", err.Error()).WithCause(err)
	}
	return string(b), nil
}

func decodeVars(raw string) (map[string]any, error) {
	vars := map[string]any{}
	if raw == "" {
		return vars, nil
	}
	if err := json.Unmarshal([]byte(raw), &vars); err != nil {
		return nil, storeFailed("decode variables", err)
	}
	if vars == nil {
		vars = map[string]any{}
	}
	return vars, nil
}

var (
	_ Store = (*LibSQLStore)(nil)
	_ Port  = (*sqlPort)(nil)
)
