package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

type mockLookup map[string]bool

func (m mockLookup) Has(name string) bool { return m[name] }

func node(id string, typ schema.NodeType) schema.NodeDocument {
	return schema.NodeDocument{ID: id, Type: typ}
}

func flow(from, to, cond string) schema.FlowDocument {
	return schema.FlowDocument{From: from, To: to, Condition: cond}
}

func approvalDoc() *schema.ProcessDocument {
	return &schema.ProcessDocument{
		ID:   "approval",
		Name: "Approval",
		Nodes: []schema.NodeDocument{
			node("start", schema.NodeTypeStart),
			node("review", schema.NodeTypeUserTask),
			node("gw", schema.NodeTypeExclusiveGateway),
			{ID: "notify", Type: schema.NodeTypeServiceTask, Properties: map[string]string{
				schema.PropHTTPURL:     "http://example/notify",
				schema.PropHTTPTimeout: "5s",
			}},
			node("end", schema.NodeTypeEnd),
		},
		Flows: []schema.FlowDocument{
			flow("start", "review", ""),
			flow("review", "gw", ""),
			flow("gw", "notify", "approved"),
			flow("gw", "end", ""),
			flow("notify", "end", ""),
		},
	}
}

func newValidator(t *testing.T, lookup HandlerLookup) *DocumentValidator {
	t.Helper()
	v, err := NewDocumentValidator(lookup)
	require.NoError(t, err)
	return v
}

func TestValidate_ValidDocument(t *testing.T) {
	result := newValidator(t, nil).Validate(approvalDoc())
	assert.True(t, result.Valid(), "%v", result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidate_NilDocument(t *testing.T) {
	result := newValidator(t, nil).Validate(nil)
	require.Len(t, result.Errors, 1)
}

func TestValidate_StructuralErrorsShortCircuit(t *testing.T) {
	doc := approvalDoc()
	doc.Nodes[1].Type = "manualTask"
	doc.ExpressionLanguage = "lua"

	result := newValidator(t, nil).Validate(doc)
	assert.False(t, result.Valid())
	assert.GreaterOrEqual(t, len(result.Errors), 2)
	for _, e := range result.Errors {
		assert.Equal(t, "/", e.Path, "only structural issues are reported")
	}
}

func TestValidate_StartNodeRules(t *testing.T) {
	v := newValidator(t, nil)

	doc := approvalDoc()
	doc.Nodes = append(doc.Nodes, node("start2", schema.NodeTypeStart))
	doc.Flows = append(doc.Flows, flow("start2", "review", ""))
	result := v.Validate(doc)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "2 start nodes")

	doc = approvalDoc()
	doc.Nodes = doc.Nodes[1:]
	doc.Flows = doc.Flows[1:]
	result = v.Validate(doc)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "no start node")

	doc = approvalDoc()
	doc.Flows = append(doc.Flows, flow("start", "end", ""))
	result = v.Validate(doc)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "exactly one outgoing flow")
}

func TestValidate_FlowReferences(t *testing.T) {
	doc := approvalDoc()
	doc.Flows = append(doc.Flows, flow("review", "ghost", ""), schema.FlowDocument{ID: "dup", From: "gw", To: "end"},
		schema.FlowDocument{ID: "dup", From: "notify", To: "end"})

	result := newValidator(t, nil).Validate(doc)
	require.False(t, result.Valid())
	var paths []string
	for _, e := range result.Errors {
		paths = append(paths, e.Path)
	}
	assert.Contains(t, paths, "flows[5].to")
	assert.Contains(t, paths, "flows[7].id")
}

func TestValidate_DuplicateNodeAndDeadEnd(t *testing.T) {
	doc := approvalDoc()
	doc.Nodes = append(doc.Nodes, node("review", schema.NodeTypeUserTask), node("orphan", schema.NodeTypeUserTask))

	result := newValidator(t, nil).Validate(doc)
	require.False(t, result.Valid())
	msgs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		msgs = append(msgs, e.Message)
	}
	assert.Contains(t, msgs, `duplicate node id "review"`)
	assert.Contains(t, msgs, `node "orphan" has no outgoing flow`)
}

func TestValidate_ServiceProperties(t *testing.T) {
	doc := approvalDoc()
	doc.Nodes[3].Properties[schema.PropHTTPTimeout] = "soon"
	doc.Nodes[3].Properties[schema.PropHTTPMethod] = "TELEPORT"
	doc.Nodes[3].Properties[schema.PropDelegate] = "com.acme.Notify"

	result := newValidator(t, mockLookup{"other": true}).Validate(doc)
	require.Len(t, result.Errors, 3)
	codes := map[string]string{}
	for _, e := range result.Errors {
		codes[e.Path] = e.Code
	}
	assert.Equal(t, schema.ErrCodeValidation, codes["nodes[3].properties.http.timeout"])
	assert.Equal(t, schema.ErrCodeValidation, codes["nodes[3].properties.http.method"])
	assert.Equal(t, schema.ErrCodeUnknownHandler, codes["nodes[3].properties.delegate"])

	doc.Nodes[3].Properties = map[string]string{schema.PropDelegate: "com.acme.Notify"}
	assert.True(t, newValidator(t, mockLookup{"com.acme.Notify": true}).Validate(doc).Valid())
	assert.True(t, newValidator(t, nil).Validate(doc).Valid(), "a nil lookup skips delegate checks")
}

func TestValidate_JavaClassDelegate(t *testing.T) {
	doc := approvalDoc()
	doc.Nodes[3].Properties = map[string]string{schema.PropJavaClass: "com.acme.Notify"}

	result := newValidator(t, mockLookup{"other": true}).Validate(doc)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "nodes[3].properties.java.class", result.Errors[0].Path)
	assert.Equal(t, schema.ErrCodeUnknownHandler, result.Errors[0].Code)

	assert.True(t, newValidator(t, mockLookup{"com.acme.Notify": true}).Validate(doc).Valid())
}

func TestValidate_Warnings(t *testing.T) {
	doc := approvalDoc()
	doc.Nodes = append(doc.Nodes,
		node("island", schema.NodeTypeUserTask),
		node("pg", schema.NodeTypeParallelGateway),
	)
	doc.Flows = append(doc.Flows, flow("island", "end", ""), flow("gw", "pg", "other"), flow("pg", "end", ""))

	result := newValidator(t, nil).Validate(doc)
	require.True(t, result.Valid(), "%v", result.Errors)
	var msgs []string
	for _, w := range result.Warnings {
		msgs = append(msgs, w.Message)
	}
	assert.Contains(t, msgs, `node "island" is unreachable from the start node`)
	assert.Contains(t, msgs, `parallel gateway "pg" is neither a fork nor a join; it routes like an exclusive gateway`)
}

func TestValidate_BusyLoop(t *testing.T) {
	doc := &schema.ProcessDocument{
		ID: "loop",
		Nodes: []schema.NodeDocument{
			node("start", schema.NodeTypeStart),
			{ID: "a", Type: schema.NodeTypeServiceTask},
			{ID: "b", Type: schema.NodeTypeServiceTask},
			node("gw", schema.NodeTypeExclusiveGateway),
			node("end", schema.NodeTypeEnd),
		},
		Flows: []schema.FlowDocument{
			flow("start", "a", ""),
			flow("a", "b", ""),
			flow("b", "gw", ""),
			flow("gw", "a", ""),
			flow("gw", "end", "done"),
		},
	}
	result := newValidator(t, nil).Validate(doc)
	require.True(t, result.Valid())
	require.NotEmpty(t, result.Warnings)
	assert.Equal(t, "nodes a, b, gw form a loop with no condition or user task", result.Warnings[len(result.Warnings)-1].Message)

	doc.Flows[3].Condition = "!done"
	result = newValidator(t, nil).Validate(doc)
	assert.Empty(t, result.Warnings)
}

func TestValidate_ToError(t *testing.T) {
	doc := approvalDoc()
	doc.Flows = nil
	err := newValidator(t, nil).ValidateDocument(doc)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	assert.NoError(t, newValidator(t, nil).ValidateDocument(approvalDoc()))
}
