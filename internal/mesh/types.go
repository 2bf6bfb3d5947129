package mesh

import "time"

// NodeType classifies a code entity in the mesh.
type NodeType string

const (
	NodeFile            NodeType = "File"
	NodeClass           NodeType = "Class"
	NodeFunction        NodeType = "Function"
	NodeMethod          NodeType = "Method"
	NodeInterface       NodeType = "Interface"
	NodeVariable        NodeType = "Variable"
	NodeConstant        NodeType = "Constant"
	NodeApiEndpoint     NodeType = "ApiEndpoint"
	NodeQueue           NodeType = "Queue"
	NodeTopic           NodeType = "Topic"
	NodeTable           NodeType = "Table"
	NodeModel           NodeType = "Model"
	NodeConsumer        NodeType = "Consumer"
	NodeProducer        NodeType = "Producer"
	NodeExternalService NodeType = "ExternalService"
	NodeConfigKey       NodeType = "ConfigKey"
	NodeModule          NodeType = "Module"

	// NodeUnknown is the fallback for AI-sourced types that fail validation.
	NodeUnknown NodeType = "Unknown"
)

var knownNodeTypes = map[NodeType]bool{
	NodeFile: true, NodeClass: true, NodeFunction: true, NodeMethod: true,
	NodeInterface: true, NodeVariable: true, NodeConstant: true,
	NodeApiEndpoint: true, NodeQueue: true, NodeTopic: true,
	NodeTable: true, NodeModel: true, NodeConsumer: true, NodeProducer: true,
	NodeExternalService: true, NodeConfigKey: true, NodeModule: true,
	NodeUnknown: true,
}

// ParseNodeType maps a raw string to a NodeType.
// Unrecognized values (typically from AI discovery) become NodeUnknown.
func ParseNodeType(s string) NodeType {
	t := NodeType(s)
	if knownNodeTypes[t] {
		return t
	}
	return NodeUnknown
}

// EdgeType classifies a relationship between two mesh nodes.
type EdgeType string

const (
	EdgeContains     EdgeType = "CONTAINS"
	EdgeCalls        EdgeType = "CALLS"
	EdgeImports      EdgeType = "IMPORTS"
	EdgeInherits     EdgeType = "INHERITS"
	EdgeImplements   EdgeType = "IMPLEMENTS"
	EdgePublishesTo  EdgeType = "PUBLISHES_TO"
	EdgeSubscribesTo EdgeType = "SUBSCRIBES_TO"
	EdgeReadsFrom    EdgeType = "READS_FROM"
	EdgeWritesTo     EdgeType = "WRITES_TO"
	EdgeCallsService EdgeType = "CALLS_SERVICE"
	EdgeHandledBy    EdgeType = "HANDLED_BY"

	// EdgeDependsOn is the fallback for AI-sourced edge types that fail validation.
	EdgeDependsOn EdgeType = "DEPENDS_ON"
)

var knownEdgeTypes = map[EdgeType]bool{
	EdgeContains: true, EdgeCalls: true, EdgeImports: true,
	EdgeInherits: true, EdgeImplements: true, EdgePublishesTo: true,
	EdgeSubscribesTo: true, EdgeReadsFrom: true, EdgeWritesTo: true,
	EdgeCallsService: true, EdgeHandledBy: true, EdgeDependsOn: true,
}

// ParseEdgeType maps a raw string to an EdgeType.
// Unrecognized values become EdgeDependsOn.
func ParseEdgeType(s string) EdgeType {
	t := EdgeType(s)
	if knownEdgeTypes[t] {
		return t
	}
	return EdgeDependsOn
}

// Tier identifies which extraction strategy produced a node or edge.
type Tier int

const (
	TierNone Tier = 0
	// Tier1 is deterministic schema pattern matching.
	Tier1 Tier = 1
	// Tier2 is AI verification/correction of Tier 1 output.
	Tier2 Tier = 2
	// Tier3 is full AI discovery with no schema.
	Tier3 Tier = 3
)

// Extraction records how a node or edge was produced.
type Extraction struct {
	Tier       Tier      `json:"tier"`
	SchemaName string    `json:"schema_name,omitempty"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Location is a 1-based inclusive line range within a source file.
type Location struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Node is a code entity in the mesh: a file, class, function, endpoint,
// queue, table, and so on. Every non-File node is eventually linked to
// exactly one File node by a CONTAINS edge.
type Node struct {
	ID         string     `json:"id"`
	Type       NodeType   `json:"type"`
	Name       string     `json:"name"`
	Properties Properties `json:"properties,omitempty"`
	Location   Location   `json:"location"`
	ProjectID  string     `json:"project_id"`
	Extraction Extraction `json:"extraction"`
}

// Edge is a typed relationship between two mesh nodes. The To side may be
// unresolved when the target node does not yet exist; unresolved targets
// are stitched up by later cross-file or cross-project passes.
type Edge struct {
	ID         string     `json:"id"`
	Type       EdgeType   `json:"type"`
	From       string     `json:"from"`
	To         Target     `json:"to"`
	Properties Properties `json:"properties,omitempty"`
	Extraction Extraction `json:"extraction"`
}
