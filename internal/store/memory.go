package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// MemoryStore is a Store kept entirely in process memory. A single mutex
// serialises every call; WithTx holds it for the whole transaction and restores a
// snapshot when fn fails. Intended for tests and throwaway runs.
type MemoryStore struct {
	mu sync.Mutex
	st *memState
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState()}
}

type memState struct {
	processes map[string]*Process
	instances map[string]*Instance
	tokens    map[string]*Token
	tokenSeq  []string
	joins     map[joinKey]int
	tasks     map[string]*Task
	taskSeq   []string
	events    map[string][]*Event
	eventID   int64
}

type joinKey struct{ instanceID, nodeID string }

func newMemState() *memState {
	return &memState{
		processes: make(map[string]*Process),
		instances: make(map[string]*Instance),
		tokens:    make(map[string]*Token),
		joins:     make(map[joinKey]int),
		tasks:     make(map[string]*Task),
		events:    make(map[string][]*Event),
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	for k, p := range st.processes {
		cp := *p
		c.processes[k] = &cp
	}
	for k, i := range st.instances {
		c.instances[k] = i.clone()
	}
	for k, t := range st.tokens {
		cp := *t
		c.tokens[k] = &cp
	}
	c.tokenSeq = slices.Clone(st.tokenSeq)
	for k, n := range st.joins {
		c.joins[k] = n
	}
	for k, t := range st.tasks {
		c.tasks[k] = t.clone()
	}
	c.taskSeq = slices.Clone(st.taskSeq)
	for k, evs := range st.events {
		c.events[k] = slices.Clone(evs)
	}
	c.eventID = st.eventID
	return c
}

// WithTx runs fn with exclusive access to the store. On error every change made
// through tx is discarded.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Port) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	committed := false
	defer func() {
		if !committed {
			m.st = snapshot
		}
	}()

	if err := fn(ctx, &memPort{st: m.st}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (m *MemoryStore) port() *memPort { return &memPort{st: m.st} }

// --- Port, one call per lock ---

func (m *MemoryStore) CreateInstance(ctx context.Context, processID, businessKey string, vars map[string]any) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().CreateInstance(ctx, processID, businessKey, vars)
}

func (m *MemoryStore) GetInstance(ctx context.Context, id string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().GetInstance(ctx, id)
}

func (m *MemoryStore) CompleteInstance(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().CompleteInstance(ctx, id)
}

func (m *MemoryStore) MutateVariables(ctx context.Context, instanceID string, fn func(vars map[string]any)) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().MutateVariables(ctx, instanceID, fn)
}

func (m *MemoryStore) CreateToken(ctx context.Context, instanceID, nodeID string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().CreateToken(ctx, instanceID, nodeID)
}

func (m *MemoryStore) MoveToken(ctx context.Context, tokenID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().MoveToken(ctx, tokenID, nodeID)
}

func (m *MemoryStore) ConsumeToken(ctx context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().ConsumeToken(ctx, tokenID)
}

func (m *MemoryStore) ActiveTokens(ctx context.Context, instanceID string) ([]*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().ActiveTokens(ctx, instanceID)
}

func (m *MemoryStore) IncrementJoin(ctx context.Context, instanceID, nodeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().IncrementJoin(ctx, instanceID, nodeID)
}

func (m *MemoryStore) ResetJoin(ctx context.Context, instanceID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().ResetJoin(ctx, instanceID, nodeID)
}

func (m *MemoryStore) CreateTask(ctx context.Context, task NewTask) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().CreateTask(ctx, task)
}

func (m *MemoryStore) GetTask(ctx context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().GetTask(ctx, id)
}

func (m *MemoryStore) CompleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().CompleteTask(ctx, id)
}

func (m *MemoryStore) HasOpenTasks(ctx context.Context, instanceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().HasOpenTasks(ctx, instanceID)
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().AppendEvent(ctx, event)
}

// --- Processes ---

func (m *MemoryStore) SaveProcess(_ context.Context, p *Process) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.DeployedAt = timeOrNow(p.DeployedAt)
	cp := *p
	m.st.processes[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetProcess(_ context.Context, id string) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.processes[id]
	if !ok {
		return nil, storeNotFound("process", id)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListProcesses(_ context.Context) ([]*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Process, 0, len(m.st.processes))
	for _, p := range m.st.processes {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Queries ---

func (m *MemoryStore) ListInstances(_ context.Context, filter InstanceFilter) ([]*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Instance
	for _, inst := range m.st.instances {
		if filter.ProcessID != "" && inst.ProcessID != filter.ProcessID {
			continue
		}
		if filter.BusinessKey != "" && inst.BusinessKey != filter.BusinessKey {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		out = append(out, inst.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Task
	for _, id := range m.st.taskSeq {
		t := m.st.tasks[id]
		if filter.InstanceID != "" && t.InstanceID != filter.InstanceID {
			continue
		}
		if filter.Assignee != "" && t.Assignee != filter.Assignee {
			continue
		}
		if filter.State != "" && t.State != filter.State {
			continue
		}
		out = append(out, t.clone())
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ClaimableTasks(_ context.Context, user string, groups []string) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Task
	for _, id := range m.st.taskSeq {
		t := m.st.tasks[id]
		if t.State != schema.TaskStateOpen || t.Assignee != "" {
			continue
		}
		if CanClaim(t, user, groups) {
			out = append(out, t.clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) GetEvents(_ context.Context, instanceID string, since int64) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for _, e := range m.st.events[instanceID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Task metadata ---

func (m *MemoryStore) ClaimTask(ctx context.Context, id, user string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().ClaimTask(ctx, id, user)
}

func (m *MemoryStore) UnclaimTask(ctx context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port().UnclaimTask(ctx, id)
}

func (m *MemoryStore) SetTaskDueDate(_ context.Context, id string, due *time.Time) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.st.tasks[id]
	if !ok {
		return nil, storeNotFound("task", id)
	}
	t.DueAt = copyTime(due)
	return t.clone(), nil
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// CanClaim reports whether user, a member of groups, is a candidate for t. A task
// without candidates can be claimed by anyone.
func CanClaim(t *Task, user string, groups []string) bool {
	if len(t.CandidateUsers) == 0 && len(t.CandidateGroups) == 0 {
		return true
	}
	if user != "" && slices.Contains(t.CandidateUsers, user) {
		return true
	}
	for _, g := range groups {
		if slices.Contains(t.CandidateGroups, g) {
			return true
		}
	}
	return false
}

// memPort operates on the state without locking; callers hold MemoryStore.mu.
type memPort struct {
	st *memState
}

func (p *memPort) CreateInstance(_ context.Context, processID, businessKey string, vars map[string]any) (*Instance, error) {
	stored := deepCopyMap(vars)
	if stored == nil {
		stored = map[string]any{}
	}
	inst := &Instance{
		ID:          uuid.NewString(),
		ProcessID:   processID,
		BusinessKey: businessKey,
		Status:      schema.InstanceStatusRunning,
		Variables:   stored,
		CreatedAt:   time.Now().UTC(),
	}
	p.st.instances[inst.ID] = inst
	return inst.clone(), nil
}

func (p *memPort) GetInstance(_ context.Context, id string) (*Instance, error) {
	inst, ok := p.st.instances[id]
	if !ok {
		return nil, storeNotFound("instance", id)
	}
	return inst.clone(), nil
}

func (p *memPort) CompleteInstance(_ context.Context, id string) error {
	inst, ok := p.st.instances[id]
	if !ok {
		return storeNotFound("instance", id)
	}
	inst.Status = schema.InstanceStatusCompleted
	if inst.CompletedAt == nil {
		now := time.Now().UTC()
		inst.CompletedAt = &now
	}
	return nil
}

func (p *memPort) MutateVariables(_ context.Context, instanceID string, fn func(vars map[string]any)) (map[string]any, error) {
	inst, ok := p.st.instances[instanceID]
	if !ok {
		return nil, storeNotFound("instance", instanceID)
	}
	vars := deepCopyMap(inst.Variables)
	fn(vars)
	inst.Variables = deepCopyMap(vars)
	return vars, nil
}

func (p *memPort) CreateToken(_ context.Context, instanceID, nodeID string) (*Token, error) {
	tok := &Token{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		NodeID:     nodeID,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	p.st.tokens[tok.ID] = tok
	p.st.tokenSeq = append(p.st.tokenSeq, tok.ID)
	cp := *tok
	return &cp, nil
}

func (p *memPort) MoveToken(_ context.Context, tokenID, nodeID string) error {
	tok, ok := p.st.tokens[tokenID]
	if !ok || !tok.Active {
		return storeNotFound("active token", tokenID)
	}
	tok.NodeID = nodeID
	return nil
}

func (p *memPort) ConsumeToken(_ context.Context, tokenID string) error {
	tok, ok := p.st.tokens[tokenID]
	if !ok {
		return storeNotFound("token", tokenID)
	}
	tok.Active = false
	return nil
}

func (p *memPort) ActiveTokens(_ context.Context, instanceID string) ([]*Token, error) {
	var out []*Token
	for _, id := range p.st.tokenSeq {
		tok := p.st.tokens[id]
		if tok.InstanceID == instanceID && tok.Active {
			cp := *tok
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (p *memPort) IncrementJoin(_ context.Context, instanceID, nodeID string) (int, error) {
	k := joinKey{instanceID, nodeID}
	p.st.joins[k]++
	return p.st.joins[k], nil
}

func (p *memPort) ResetJoin(_ context.Context, instanceID, nodeID string) error {
	delete(p.st.joins, joinKey{instanceID, nodeID})
	return nil
}

func (p *memPort) CreateTask(_ context.Context, nt NewTask) (*Task, error) {
	t := &Task{
		ID:              uuid.NewString(),
		InstanceID:      nt.InstanceID,
		NodeID:          nt.NodeID,
		Name:            nt.Name,
		FormKey:         nt.FormKey,
		State:           schema.TaskStateOpen,
		CandidateUsers:  slices.Clone(nt.CandidateUsers),
		CandidateGroups: slices.Clone(nt.CandidateGroups),
		CreatedAt:       time.Now().UTC(),
	}
	p.st.tasks[t.ID] = t
	p.st.taskSeq = append(p.st.taskSeq, t.ID)
	return t.clone(), nil
}

func (p *memPort) GetTask(_ context.Context, id string) (*Task, error) {
	t, ok := p.st.tasks[id]
	if !ok {
		return nil, storeNotFound("task", id)
	}
	return t.clone(), nil
}

func (p *memPort) CompleteTask(_ context.Context, id string) error {
	t, ok := p.st.tasks[id]
	if !ok {
		return storeNotFound("task", id)
	}
	if !t.Open() {
		return taskConflict(id, "completed", t.State)
	}
	now := time.Now().UTC()
	t.State = schema.TaskStateCompleted
	t.CompletedAt = &now
	return nil
}

func (p *memPort) ClaimTask(_ context.Context, id, user string) (*Task, error) {
	t, ok := p.st.tasks[id]
	if !ok {
		return nil, storeNotFound("task", id)
	}
	if t.State != schema.TaskStateOpen || t.Assignee != "" {
		return nil, taskConflict(id, "claimed", t.State)
	}
	t.State = schema.TaskStateAssigned
	t.Assignee = user
	return t.clone(), nil
}

func (p *memPort) UnclaimTask(_ context.Context, id string) (*Task, error) {
	t, ok := p.st.tasks[id]
	if !ok {
		return nil, storeNotFound("task", id)
	}
	if t.State != schema.TaskStateAssigned {
		return nil, taskConflict(id, "unclaimed", t.State)
	}
	t.State = schema.TaskStateOpen
	t.Assignee = ""
	return t.clone(), nil
}

func (p *memPort) HasOpenTasks(_ context.Context, instanceID string) (bool, error) {
	for _, t := range p.st.tasks {
		if t.InstanceID == instanceID && t.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (p *memPort) AppendEvent(_ context.Context, event *Event) error {
	evs := p.st.events[event.InstanceID]
	p.st.eventID++
	event.ID = p.st.eventID
	event.Sequence = int64(len(evs)) + 1
	event.Timestamp = timeOrNow(event.Timestamp)
	cp := *event
	p.st.events[event.InstanceID] = append(evs, &cp)
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Port  = (*memPort)(nil)
)
