package schema

import "strings"

// ProcessDocument is the serializable form of a process definition. It is accepted
// as YAML or JSON by the definition loader, the REST API and the MCP deploy tool.
type ProcessDocument struct {
	ID                 string         `json:"id" yaml:"id" mapstructure:"id"`
	Name               string         `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	ExpressionLanguage string         `json:"expressionLanguage,omitempty" yaml:"expressionLanguage,omitempty" mapstructure:"expressionLanguage"`
	InputSchema        map[string]any `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty" mapstructure:"inputSchema"`
	Nodes              []NodeDocument `json:"nodes" yaml:"nodes" mapstructure:"nodes"`
	Flows              []FlowDocument `json:"flows,omitempty" yaml:"flows,omitempty" mapstructure:"flows"`
}

// NodeDocument describes one node of a ProcessDocument.
type NodeDocument struct {
	ID         string            `json:"id" yaml:"id" mapstructure:"id"`
	Type       NodeType          `json:"type" yaml:"type" mapstructure:"type"`
	Name       string            `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	TaskType   string            `json:"taskType,omitempty" yaml:"taskType,omitempty" mapstructure:"taskType"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty" mapstructure:"properties"`
}

// FlowDocument describes one sequence flow. Id is generated when empty.
type FlowDocument struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty" mapstructure:"id"`
	From      string `json:"from" yaml:"from" mapstructure:"from"`
	To        string `json:"to" yaml:"to" mapstructure:"to"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty" mapstructure:"condition"`
}

// NodeType enumerates the node kinds accepted in documents.
type NodeType string

const (
	NodeTypeStart            NodeType = "start"
	NodeTypeEnd              NodeType = "end"
	NodeTypeUserTask         NodeType = "userTask"
	NodeTypeServiceTask      NodeType = "serviceTask"
	NodeTypeExclusiveGateway NodeType = "exclusiveGateway"
	NodeTypeParallelGateway  NodeType = "parallelGateway"
)

// Expression languages understood by the definition loader.
const (
	LanguageExpr = "expr"
	LanguageCEL  = "cel"
)

// Well-known node property keys.
const (
	PropType            = "type"
	PropHTTPURL         = "http.url"
	PropHTTPMethod      = "http.method"
	PropHTTPBody        = "http.body"
	PropHTTPTimeout     = "http.timeout"
	PropHTTPHeaderPfx   = "http.header."
	PropHTTPResultVar   = "http.resultVariable"
	PropHTTPResultQuery = "http.resultQuery"
	PropDelegate        = "delegate"
	PropJavaClass       = "java.class"
	PropFormKey         = "formKey"
	PropCandidateUsers  = "candidateUsers"
	PropCandidateGroups = "candidateGroups"
)

// DelegateProperty returns the key and trimmed value naming a service task's
// delegate. PropDelegate wins over its PropJavaClass alias. key is "" when
// neither is set.
func DelegateProperty(props map[string]string) (key, name string) {
	for _, k := range []string{PropDelegate, PropJavaClass} {
		if v := strings.TrimSpace(props[k]); v != "" {
			return k, v
		}
	}
	return "", ""
}
