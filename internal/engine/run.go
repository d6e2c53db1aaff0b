package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/regygeorge/nx-workflow/internal/handlers"
	"github.com/regygeorge/nx-workflow/internal/logging"
	"github.com/regygeorge/nx-workflow/internal/process"
	"github.com/regygeorge/nx-workflow/internal/store"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// advance moves the instance's active tokens until none are left or a full pass
// over them makes no progress, then completes the instance if nothing is active
// or open. All writes go through tx.
func (e *Engine) advance(ctx context.Context, tx store.Port, def *process.Definition, instanceID string, stats *runStats) error {
	ctx, span := e.tracer.Start(ctx, "engine.advance", trace.WithAttributes(
		attribute.String("process.id", def.ID),
		attribute.String("instance.id", instanceID),
	))
	defer span.End()
	began := time.Now()
	defer func() { stats.elapsed = time.Since(began) }()

	passes := 0
	for {
		if passes >= e.maxPasses {
			err := schema.NewErrorf(schema.ErrCodeExecution,
				"instance %s did not settle after %d passes", instanceID, e.maxPasses).
				WithDetails(map[string]any{"max_passes": e.maxPasses})
			e.endSpan(span, err)
			return err
		}
		passes++

		tokens, err := tx.ActiveTokens(ctx, instanceID)
		if err != nil {
			e.endSpan(span, err)
			return err
		}
		if len(tokens) == 0 {
			break
		}

		progressed := false
		for _, tok := range tokens {
			moved, err := e.dispatch(ctx, tx, def, tok, stats)
			if err != nil {
				e.endSpan(span, err)
				return err
			}
			progressed = progressed || moved
		}
		if !progressed {
			break
		}
	}
	span.SetAttributes(attribute.Int("passes", passes))

	done, err := e.settle(ctx, tx, instanceID)
	if err != nil {
		e.endSpan(span, err)
		return err
	}
	stats.completed = done
	return nil
}

// settle completes the instance when no token is active and no task is open.
func (e *Engine) settle(ctx context.Context, tx store.Port, instanceID string) (bool, error) {
	tokens, err := tx.ActiveTokens(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if len(tokens) > 0 {
		return false, nil
	}
	open, err := tx.HasOpenTasks(ctx, instanceID)
	if err != nil || open {
		return false, err
	}
	if err := tx.CompleteInstance(ctx, instanceID); err != nil {
		return false, err
	}
	if err := emit(ctx, tx, instanceID, "", "", schema.EventInstanceCompleted, nil); err != nil {
		return false, err
	}
	logging.LogWith(ctx, e.logger).Info("instance completed")
	return true, nil
}

// dispatch runs one token through its node. It reports whether the token moved,
// forked, passed a join or ended.
func (e *Engine) dispatch(ctx context.Context, tx store.Port, def *process.Definition, tok *store.Token, stats *runStats) (bool, error) {
	node, ok := def.Node(tok.NodeID)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeConfiguration,
			"token %s points at unknown node %s", tok.ID, tok.NodeID)
	}
	ctx = logging.WithTokenID(logging.WithNodeID(ctx, node.ID), tok.ID)
	stats.dispatched[node.Kind]++
	logging.LogWith(ctx, e.logger).Debug("dispatch", slog.String("kind", string(node.Kind)))

	switch node.Kind {
	case process.KindStart:
		if len(node.Outgoing) != 1 {
			return false, schema.NewErrorf(schema.ErrCodeConfiguration,
				"start node must have exactly one outgoing flow, has %d", len(node.Outgoing)).WithNode(node.ID)
		}
		return true, e.move(ctx, tx, tok, node.Outgoing[0])

	case process.KindServiceTask:
		return true, e.runServiceTask(ctx, tx, node, tok)

	case process.KindUserTask:
		return false, e.openTask(ctx, tx, node, tok, stats)

	case process.KindExclusiveGateway:
		return true, e.route(ctx, tx, node, tok)

	case process.KindParallelGateway:
		switch {
		case node.IsFork():
			return true, e.fork(ctx, tx, node, tok)
		case node.IsJoin():
			return e.join(ctx, tx, node, tok)
		default:
			return true, e.route(ctx, tx, node, tok)
		}

	case process.KindEnd:
		return true, e.consume(ctx, tx, tok)

	default:
		return false, schema.NewErrorf(schema.ErrCodeConfiguration, "unsupported node kind %q", node.Kind).
			WithNode(node.ID)
	}
}

func (e *Engine) runServiceTask(ctx context.Context, tx store.Port, node *process.Node, tok *store.Token) error {
	h, route, err := e.dispatcher.Resolve(node)
	if err != nil {
		return err
	}
	inst, err := tx.GetInstance(ctx, tok.InstanceID)
	if err != nil {
		return err
	}
	exec := &handlers.Execution{
		InstanceID: inst.ID,
		NodeID:     node.ID,
		TaskType:   node.TaskType,
		Variables:  maps.Clone(inst.Variables),
		Properties: maps.Clone(node.Properties),
	}
	if exec.Variables == nil {
		exec.Variables = map[string]any{}
	}
	if exec.Properties == nil {
		exec.Properties = map[string]string{}
	}

	began := time.Now()
	if err := h.Execute(ctx, exec); err != nil {
		return schema.NewErrorf(schema.ErrCodeHandlerFailed, "service task %s (%s): %v", node.ID, route, err).
			WithNode(node.ID).WithCause(err)
	}

	vars, err := tx.MutateVariables(ctx, inst.ID, func(cur map[string]any) {
		maps.Copy(cur, exec.Variables)
	})
	if err != nil {
		return err
	}
	if err := emit(ctx, tx, inst.ID, node.ID, tok.ID, schema.EventServiceExecuted, map[string]any{
		"task_type":   node.TaskType,
		"route":       string(route),
		"duration_ms": time.Since(began).Milliseconds(),
	}); err != nil {
		return err
	}
	logging.LogWith(ctx, e.logger).Debug("service task executed",
		slog.String("route", string(route)),
		slog.String("task_type", node.TaskType))

	flow, ok := SelectOne(node.Outgoing, vars)
	if !ok {
		return noMatchingFlow(node)
	}
	return e.move(ctx, tx, tok, flow)
}

func (e *Engine) openTask(ctx context.Context, tx store.Port, node *process.Node, tok *store.Token, stats *runStats) error {
	task, err := tx.CreateTask(ctx, store.NewTask{
		InstanceID:      tok.InstanceID,
		NodeID:          node.ID,
		Name:            node.Name,
		FormKey:         node.Property(schema.PropFormKey),
		CandidateUsers:  splitList(node.Property(schema.PropCandidateUsers)),
		CandidateGroups: splitList(node.Property(schema.PropCandidateGroups)),
	})
	if err != nil {
		return err
	}
	stats.tasksCreated++
	if err := emit(ctx, tx, tok.InstanceID, node.ID, tok.ID, schema.EventTaskCreated, map[string]any{
		"task_id": task.ID,
		"name":    task.Name,
	}); err != nil {
		return err
	}
	logging.LogWith(ctx, e.logger).Debug("task opened", slog.String("task_id", task.ID))
	return e.consume(ctx, tx, tok)
}

// route moves the token along the first flow whose condition holds.
func (e *Engine) route(ctx context.Context, tx store.Port, node *process.Node, tok *store.Token) error {
	inst, err := tx.GetInstance(ctx, tok.InstanceID)
	if err != nil {
		return err
	}
	flow, ok := SelectOne(node.Outgoing, inst.Variables)
	if !ok {
		return noMatchingFlow(node)
	}
	return e.move(ctx, tx, tok, flow)
}

func (e *Engine) fork(ctx context.Context, tx store.Port, node *process.Node, tok *store.Token) error {
	if err := e.consume(ctx, tx, tok); err != nil {
		return err
	}
	for _, f := range node.Outgoing {
		branch, err := tx.CreateToken(ctx, tok.InstanceID, f.To)
		if err != nil {
			return err
		}
		if err := emit(ctx, tx, tok.InstanceID, f.To, branch.ID, schema.EventTokenCreated, map[string]any{
			"flow": f.ID,
			"from": node.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// join counts the arrival of tok. The arrival that reaches the number of incoming
// flows resets the counter and passes through; earlier arrivals are absorbed.
func (e *Engine) join(ctx context.Context, tx store.Port, node *process.Node, tok *store.Token) (bool, error) {
	count, err := tx.IncrementJoin(ctx, tok.InstanceID, node.ID)
	if err != nil {
		return false, err
	}
	threshold := len(node.Incoming)
	if err := emit(ctx, tx, tok.InstanceID, node.ID, tok.ID, schema.EventJoinArrived, map[string]any{
		"count":     count,
		"threshold": threshold,
	}); err != nil {
		return false, err
	}
	if count < threshold {
		return false, e.consume(ctx, tx, tok)
	}

	if err := tx.ResetJoin(ctx, tok.InstanceID, node.ID); err != nil {
		return false, err
	}
	if err := emit(ctx, tx, tok.InstanceID, node.ID, tok.ID, schema.EventJoinReleased, nil); err != nil {
		return false, err
	}
	return true, e.move(ctx, tx, tok, node.Outgoing[0])
}

func (e *Engine) move(ctx context.Context, tx store.Port, tok *store.Token, flow *process.SequenceFlow) error {
	if err := tx.MoveToken(ctx, tok.ID, flow.To); err != nil {
		return err
	}
	return emit(ctx, tx, tok.InstanceID, flow.To, tok.ID, schema.EventTokenMoved, map[string]any{
		"flow": flow.ID,
		"from": flow.From,
	})
}

func (e *Engine) consume(ctx context.Context, tx store.Port, tok *store.Token) error {
	if err := tx.ConsumeToken(ctx, tok.ID); err != nil {
		return err
	}
	return emit(ctx, tx, tok.InstanceID, tok.NodeID, tok.ID, schema.EventTokenConsumed, nil)
}

// mergeVariables overlays updates onto the stored variables and returns the result.
func mergeVariables(ctx context.Context, tx store.Port, instanceID, nodeID string, updates map[string]any) (map[string]any, error) {
	vars, err := tx.MutateVariables(ctx, instanceID, func(cur map[string]any) {
		maps.Copy(cur, updates)
	})
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return vars, nil
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return vars, emit(ctx, tx, instanceID, nodeID, "", schema.EventVariablesMerged, map[string]any{"keys": keys})
}

func emit(ctx context.Context, appender EventAppender, instanceID, nodeID, tokenID, eventType string, payload map[string]any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "encode %s event: %v", eventType, err).WithCause(err)
		}
		raw = b
	}
	return appender.AppendEvent(ctx, &store.Event{
		InstanceID: instanceID,
		NodeID:     nodeID,
		TokenID:    tokenID,
		Type:       eventType,
		Payload:    raw,
	})
}

func noMatchingFlow(node *process.Node) error {
	return schema.NewErrorf(schema.ErrCodeNoMatchingFlow, "no matching condition from %s", node.ID).
		WithNode(node.ID).
		WithDetails(map[string]any{"outgoing": len(node.Outgoing)})
}

// splitList parses a comma-separated property into trimmed, non-empty values.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
