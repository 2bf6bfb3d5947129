package mesh

import "time"

// FileResult is the extraction output for a single file.
type FileResult struct {
	File               string   `json:"file"`
	Language           Language `json:"language"`
	Nodes              []Node   `json:"nodes"`
	Edges              []Edge   `json:"edges"`
	Confidence         float64  `json:"confidence"`
	Tier               Tier     `json:"tier"`
	SchemasUsed        []string `json:"schemas_used,omitempty"`
	UnresolvedPatterns []string `json:"unresolved_patterns,omitempty"`
	Errors             []string `json:"errors,omitempty"`
}

// Stats aggregates counters for one project extraction run.
type Stats struct {
	FilesProcessed   int           `json:"files_processed"`
	FilesSkipped     int           `json:"files_skipped"`
	Tier1Extractions int           `json:"tier1_extractions"`
	Tier2Extractions int           `json:"tier2_extractions"`
	Tier3Extractions int           `json:"tier3_extractions"`
	TotalNodes       int           `json:"total_nodes"`
	TotalEdges       int           `json:"total_edges"`
	SchemasGenerated int           `json:"schemas_generated"`
	AICalls          int           `json:"ai_calls"`
	AITokensUsed     int           `json:"ai_tokens_used"`
	ExtractionTime   time.Duration `json:"extraction_time_ms"`
}

// GitInfo is commit metadata attached to a result when available.
// Collection is performed by an external collaborator; this package only
// defines the shape.
type GitInfo struct {
	Branch    string `json:"branch,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Author    string `json:"author,omitempty"`
	Tag       string `json:"tag,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ProjectResult is the full output of one extraction run over a project.
type ProjectResult struct {
	ProjectID  string              `json:"project_id"`
	Root       string              `json:"root"`
	Files      []FileResult        `json:"files"`
	Stats      Stats               `json:"statistics"`
	Git        *GitInfo            `json:"git,omitempty"`
	References []ExternalReference `json:"references,omitempty"`
}

// AllNodes flattens every file's nodes into one slice.
func (r *ProjectResult) AllNodes() []Node {
	var out []Node
	for _, f := range r.Files {
		out = append(out, f.Nodes...)
	}
	return out
}

// AllEdges flattens every file's edges into one slice.
func (r *ProjectResult) AllEdges() []Edge {
	var out []Edge
	for _, f := range r.Files {
		out = append(out, f.Edges...)
	}
	return out
}

// ReferenceDirection tags an external reference as produced, consumed, or both.
type ReferenceDirection string

const (
	DirectionProduce ReferenceDirection = "produce"
	DirectionConsume ReferenceDirection = "consume"
	DirectionBoth    ReferenceDirection = "both"
)

// ReferenceType classifies an externally visible identifier.
type ReferenceType string

const (
	RefQueue  ReferenceType = "queue"
	RefAPI    ReferenceType = "api"
	RefTable  ReferenceType = "table"
	RefConfig ReferenceType = "config"
)

// ExternalReference is a producer/consumer-tagged identifier extracted from
// a node, used only for cross-project linking. It is never persisted as a
// node itself.
type ExternalReference struct {
	Type         ReferenceType      `json:"type"`
	Identifier   string             `json:"identifier"`
	Direction    ReferenceDirection `json:"direction"`
	SourceNodeID string             `json:"source_node_id"`
	SourceFile   string             `json:"source_file"`
	ProjectID    string             `json:"project_id"`
	Confidence   float64            `json:"confidence"`
}

// ResolutionMethod records how a cross-project pair was matched.
type ResolutionMethod string

const (
	ResolveLiteral ResolutionMethod = "literal"
	ResolveConfig  ResolutionMethod = "config"
	ResolvePattern ResolutionMethod = "pattern"
)

// CrossProjectLink pairs a producer reference with a consumer reference
// from a different project.
type CrossProjectLink struct {
	ID         string            `json:"id"`
	Producer   ExternalReference `json:"producer"`
	Consumer   ExternalReference `json:"consumer"`
	Method     ResolutionMethod  `json:"method"`
	Confidence float64           `json:"confidence"`
}
