package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// storeContract runs the behaviour every Store implementation must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("instance lifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		inst, err := s.CreateInstance(ctx, "order", "BK-1", map[string]any{"amount": 10})
		require.NoError(t, err)
		assert.NotEmpty(t, inst.ID)
		assert.Equal(t, schema.InstanceStatusRunning, inst.Status)

		got, err := s.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, "order", got.ProcessID)
		assert.Equal(t, "BK-1", got.BusinessKey)
		assert.EqualValues(t, 10, got.Variables["amount"])
		assert.Nil(t, got.CompletedAt)

		require.NoError(t, s.CompleteInstance(ctx, inst.ID))
		got, err = s.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, schema.InstanceStatusCompleted, got.Status)
		assert.NotNil(t, got.CompletedAt)

		_, err = s.GetInstance(ctx, "missing")
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	})

	t.Run("mutate variables merges", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst, err := s.CreateInstance(ctx, "p", "", map[string]any{"a": "x"})
		require.NoError(t, err)

		out, err := s.MutateVariables(ctx, inst.ID, func(vars map[string]any) { vars["b"] = true })
		require.NoError(t, err)
		assert.Equal(t, "x", out["a"])
		assert.Equal(t, true, out["b"])

		got, err := s.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Len(t, got.Variables, 2)

		_, err = s.MutateVariables(ctx, "missing", func(map[string]any) {})
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	})

	t.Run("tokens keep creation order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst, err := s.CreateInstance(ctx, "p", "", nil)
		require.NoError(t, err)

		t1, err := s.CreateToken(ctx, inst.ID, "a")
		require.NoError(t, err)
		t2, err := s.CreateToken(ctx, inst.ID, "b")
		require.NoError(t, err)
		t3, err := s.CreateToken(ctx, inst.ID, "c")
		require.NoError(t, err)

		require.NoError(t, s.MoveToken(ctx, t1.ID, "z"))
		require.NoError(t, s.ConsumeToken(ctx, t2.ID))

		active, err := s.ActiveTokens(ctx, inst.ID)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, t1.ID, active[0].ID)
		assert.Equal(t, "z", active[0].NodeID)
		assert.Equal(t, t3.ID, active[1].ID)

		assert.Error(t, s.MoveToken(ctx, t2.ID, "q"), "consumed tokens cannot move")
	})

	t.Run("join counter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst, err := s.CreateInstance(ctx, "p", "", nil)
		require.NoError(t, err)

		for want := 1; want <= 3; want++ {
			n, err := s.IncrementJoin(ctx, inst.ID, "join")
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}
		_, err = s.IncrementJoin(ctx, inst.ID, "other")
		require.NoError(t, err)

		require.NoError(t, s.ResetJoin(ctx, inst.ID, "join"))
		require.NoError(t, s.ResetJoin(ctx, inst.ID, "join"), "resetting a missing counter is fine")
		n, err := s.IncrementJoin(ctx, inst.ID, "join")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.IncrementJoin(ctx, inst.ID, "other")
		require.NoError(t, err)
		assert.Equal(t, 2, n, "counters are per node")
	})

	t.Run("task lifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst, err := s.CreateInstance(ctx, "p", "", nil)
		require.NoError(t, err)

		task, err := s.CreateTask(ctx, NewTask{
			InstanceID:      inst.ID,
			NodeID:          "review",
			Name:            "Review",
			FormKey:         "forms/review",
			CandidateUsers:  []string{"ada"},
			CandidateGroups: []string{"ops", "finance"},
		})
		require.NoError(t, err)
		assert.Equal(t, schema.TaskStateOpen, task.State)

		open, err := s.HasOpenTasks(ctx, inst.ID)
		require.NoError(t, err)
		assert.True(t, open)

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, "forms/review", got.FormKey)
		assert.Equal(t, []string{"ada"}, got.CandidateUsers)
		assert.ElementsMatch(t, []string{"ops", "finance"}, got.CandidateGroups)

		require.NoError(t, s.CompleteTask(ctx, task.ID))
		got, err = s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, schema.TaskStateCompleted, got.State)
		assert.NotNil(t, got.CompletedAt)

		err = s.CompleteTask(ctx, task.ID)
		assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

		open, err = s.HasOpenTasks(ctx, inst.ID)
		require.NoError(t, err)
		assert.False(t, open)

		_, err = s.GetTask(ctx, "missing")
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	})

	t.Run("claim and unclaim", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst, err := s.CreateInstance(ctx, "p", "", nil)
		require.NoError(t, err)
		task, err := s.CreateTask(ctx, NewTask{InstanceID: inst.ID, NodeID: "n", Name: "N"})
		require.NoError(t, err)

		claimed, err := s.ClaimTask(ctx, task.ID, "ada")
		require.NoError(t, err)
		assert.Equal(t, schema.TaskStateAssigned, claimed.State)
		assert.Equal(t, "ada", claimed.Assignee)

		_, err = s.ClaimTask(ctx, task.ID, "bob")
		assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

		mine, err := s.ListTasks(ctx, TaskFilter{Assignee: "ada", State: schema.TaskStateAssigned})
		require.NoError(t, err)
		assert.Len(t, mine, 1)

		back, err := s.UnclaimTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, schema.TaskStateOpen, back.State)
		assert.Empty(t, back.Assignee)

		_, err = s.UnclaimTask(ctx, task.ID)
		assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

		_, err = s.ClaimTask(ctx, "missing", "ada")
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	})

	t.Run("claim rolls back with its transaction", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst, err := s.CreateInstance(ctx, "p", "", nil)
		require.NoError(t, err)
		task, err := s.CreateTask(ctx, NewTask{InstanceID: inst.ID, NodeID: "n", Name: "N"})
		require.NoError(t, err)

		errVeto := errors.New("veto")
		err = s.WithTx(ctx, func(ctx context.Context, tx Port) error {
			claimed, err := tx.ClaimTask(ctx, task.ID, "ada")
			require.NoError(t, err)
			assert.Equal(t, "ada", claimed.Assignee)
			_, err = tx.ClaimTask(ctx, task.ID, "bob")
			assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
			return errVeto
		})
		require.ErrorIs(t, err, errVeto)

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, schema.TaskStateOpen, got.State)
		assert.Empty(t, got.Assignee)
	})

	t.Run("concurrent claim has one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst, err := s.CreateInstance(ctx, "p", "", nil)
		require.NoError(t, err)
		task, err := s.CreateTask(ctx, NewTask{InstanceID: inst.ID, NodeID: "n", Name: "N"})
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for _, user := range []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"} {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				_, err := s.ClaimTask(ctx, task.ID, user)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case schema.IsCode(err, schema.ErrCodeConflict):
					conflicts++
				}
			}(user)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
		assert.Equal(t, 7, conflicts)
	})

	t.Run("claimable tasks", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst, err := s.CreateInstance(ctx, "p", "", nil)
		require.NoError(t, err)

		anyone, err := s.CreateTask(ctx, NewTask{InstanceID: inst.ID, NodeID: "a", Name: "A"})
		require.NoError(t, err)
		forAda, err := s.CreateTask(ctx, NewTask{InstanceID: inst.ID, NodeID: "b", Name: "B", CandidateUsers: []string{"ada"}})
		require.NoError(t, err)
		forOps, err := s.CreateTask(ctx, NewTask{InstanceID: inst.ID, NodeID: "c", Name: "C", CandidateGroups: []string{"ops"}})
		require.NoError(t, err)
		taken, err := s.CreateTask(ctx, NewTask{InstanceID: inst.ID, NodeID: "d", Name: "D"})
		require.NoError(t, err)
		_, err = s.ClaimTask(ctx, taken.ID, "zed")
		require.NoError(t, err)

		ids := func(tasks []*Task) []string {
			var out []string
			for _, t := range tasks {
				out = append(out, t.ID)
			}
			return out
		}

		got, err := s.ClaimableTasks(ctx, "ada", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{anyone.ID, forAda.ID}, ids(got))

		got, err = s.ClaimableTasks(ctx, "bob", []string{"ops"})
		require.NoError(t, err)
		assert.Equal(t, []string{anyone.ID, forOps.ID}, ids(got))
	})

	t.Run("due date", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst, err := s.CreateInstance(ctx, "p", "", nil)
		require.NoError(t, err)
		task, err := s.CreateTask(ctx, NewTask{InstanceID: inst.ID, NodeID: "n", Name: "N"})
		require.NoError(t, err)

		due := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
		got, err := s.SetTaskDueDate(ctx, task.ID, &due)
		require.NoError(t, err)
		require.NotNil(t, got.DueAt)
		assert.True(t, due.Equal(*got.DueAt))

		got, err = s.SetTaskDueDate(ctx, task.ID, nil)
		require.NoError(t, err)
		assert.Nil(t, got.DueAt)

		_, err = s.SetTaskDueDate(ctx, "missing", &due)
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	})

	t.Run("events are sequenced per instance", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a, err := s.CreateInstance(ctx, "p", "", nil)
		require.NoError(t, err)
		b, err := s.CreateInstance(ctx, "p", "", nil)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			require.NoError(t, s.AppendEvent(ctx, &Event{InstanceID: a.ID, NodeID: "n", Type: schema.EventTokenMoved}))
		}
		ev := &Event{InstanceID: b.ID, Type: schema.EventInstanceStarted}
		require.NoError(t, s.AppendEvent(ctx, ev))
		assert.Equal(t, int64(1), ev.Sequence)

		events, err := s.GetEvents(ctx, a.ID, 1)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(2), events[0].Sequence)
		assert.Equal(t, int64(3), events[1].Sequence)
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst, err := s.CreateInstance(ctx, "p", "", map[string]any{"v": "before"})
		require.NoError(t, err)

		boom := errors.New("boom")
		err = s.WithTx(ctx, func(ctx context.Context, tx Port) error {
			if _, err := tx.MutateVariables(ctx, inst.ID, func(vars map[string]any) { vars["v"] = "after" }); err != nil {
				return err
			}
			if _, err := tx.CreateToken(ctx, inst.ID, "x"); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := s.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, "before", got.Variables["v"])

		active, err := s.ActiveTokens(ctx, inst.ID)
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("transaction commits", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst, err := s.CreateInstance(ctx, "p", "", nil)
		require.NoError(t, err)

		err = s.WithTx(ctx, func(ctx context.Context, tx Port) error {
			_, err := tx.CreateToken(ctx, inst.ID, "x")
			return err
		})
		require.NoError(t, err)

		active, err := s.ActiveTokens(ctx, inst.ID)
		require.NoError(t, err)
		assert.Len(t, active, 1)
	})

	t.Run("processes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveProcess(ctx, &Process{ID: "b", Name: "B", Source: "id: b"}))
		require.NoError(t, s.SaveProcess(ctx, &Process{ID: "a", Name: "A"}))
		require.NoError(t, s.SaveProcess(ctx, &Process{ID: "b", Name: "B2", Source: "id: b"}))

		p, err := s.GetProcess(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "B2", p.Name)
		assert.False(t, p.DeployedAt.IsZero())

		all, err := s.ListProcesses(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "a", all[0].ID)

		_, err = s.GetProcess(ctx, "zzz")
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	})

	t.Run("list instances", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a, err := s.CreateInstance(ctx, "order", "k1", nil)
		require.NoError(t, err)
		_, err = s.CreateInstance(ctx, "invoice", "k2", nil)
		require.NoError(t, err)
		require.NoError(t, s.CompleteInstance(ctx, a.ID))

		got, err := s.ListInstances(ctx, InstanceFilter{ProcessID: "order"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, a.ID, got[0].ID)

		got, err = s.ListInstances(ctx, InstanceFilter{Status: schema.InstanceStatusRunning})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "invoice", got[0].ProcessID)
	})
}
