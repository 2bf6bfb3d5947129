package ai

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/draagon/codemesh/internal/mesh"
)

// VerifyStatus is the collaborator's judgement of one extracted node.
type VerifyStatus string

const (
	StatusVerified  VerifyStatus = "verified"
	StatusCorrected VerifyStatus = "corrected"
	StatusRejected  VerifyStatus = "rejected"
)

// contextPadding is how many lines around the node's definition are sent
// with a verification request.
const contextPadding = 10

// Verification is one parsed verifier answer.
type Verification struct {
	NodeID      string
	Status      VerifyStatus
	Confidence  float64
	Corrections map[string]string
	Reason      string
}

// VerifyOutcome is the result of a Tier 2 pass over a file's nodes.
type VerifyOutcome struct {
	// Nodes holds updated copies of every input node, corrected in place
	// where the verifier supplied corrections.
	Nodes         []mesh.Node
	Verifications []Verification
	Usage         Usage
	// Errors lists per-node failures; a failed verification leaves the
	// node untouched.
	Errors []string
}

// Verifier runs Tier 2: per-node verification of pattern-match output.
type Verifier struct {
	collaborator Collaborator
	maxRetries   int
	logger       *slog.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(c Collaborator, opts ...VerifierOption) *Verifier {
	v := &Verifier{collaborator: c, maxRetries: DefaultMaxRetries, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierLogger sets the logger.
func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = l }
}

// WithVerifierRetries sets the per-call retry cap.
func WithVerifierRetries(n int) VerifierOption {
	return func(v *Verifier) { v.maxRetries = n }
}

// Verify checks up to maxCalls of the lowest-confidence non-File nodes
// against their source context. Corrections are merged into the returned
// node copies; rejected nodes keep their extraction but gain a
// verification property. Nodes beyond the call budget pass through
// unchanged.
func (v *Verifier) Verify(ctx context.Context, file *mesh.SourceFile, nodes []mesh.Node, maxCalls int) *VerifyOutcome {
	out := &VerifyOutcome{Nodes: make([]mesh.Node, len(nodes))}
	copy(out.Nodes, nodes)

	order := candidateOrder(out.Nodes)
	if maxCalls > 0 && len(order) > maxCalls {
		order = order[:maxCalls]
	}

	for _, i := range order {
		if ctx.Err() != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("verification aborted: %v", ctx.Err()))
			break
		}
		node := &out.Nodes[i]

		verification, resp, err := v.verifyOne(ctx, file, node)
		if resp != nil {
			out.Usage.Add(resp)
		}
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("verify %s %q: %v", node.Type, node.Name, err))
			continue
		}

		v.logger.Debug("node verified",
			"node", node.Name, "status", verification.Status, "confidence", verification.Confidence)
		applyVerification(node, verification)
		out.Verifications = append(out.Verifications, *verification)
	}
	return out
}

// candidateOrder returns indexes of verifiable nodes, lowest confidence
// first so a tight call budget is spent where it matters.
func candidateOrder(nodes []mesh.Node) []int {
	var order []int
	for i := range nodes {
		if nodes[i].Type != mesh.NodeFile {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return nodes[order[a]].Extraction.Confidence < nodes[order[b]].Extraction.Confidence
	})
	return order
}

func (v *Verifier) verifyOne(ctx context.Context, file *mesh.SourceFile, node *mesh.Node) (*Verification, *Response, error) {
	snippet := file.Snippet(node.Location.StartLine-contextPadding, node.Location.EndLine+contextPadding)

	var props []string
	for _, key := range node.Properties.Keys() {
		props = append(props, key+"="+node.Properties[key].Text())
	}

	req := Request{
		System: systemPrompt,
		Prompt: verifyPrompt(string(node.Type), node.Name,
			node.Location.StartLine, node.Location.EndLine,
			strings.Join(props, ", "), snippet),
	}

	resp, err := completeWithRetry(ctx, v.collaborator, req, v.maxRetries, v.logger)
	if err != nil {
		return nil, nil, err
	}

	verification, err := ParseVerification(resp.Text)
	if err != nil {
		return nil, resp, err
	}
	verification.NodeID = node.ID
	return verification, resp, nil
}

// ParseVerification reads a <verification> block. Missing status is a
// parse failure; confidence is clamped to [0, 1].
func ParseVerification(text string) (*Verification, error) {
	body, ok := tagContent(text, "verification")
	if !ok {
		return nil, &ParseError{Tag: "verification"}
	}

	status, ok := tagContent(body, "status")
	if !ok {
		return nil, &ParseError{Tag: "status"}
	}
	switch VerifyStatus(status) {
	case StatusVerified, StatusCorrected, StatusRejected:
	default:
		return nil, fmt.Errorf("ai: unknown verification status %q", status)
	}

	verification := &Verification{Status: VerifyStatus(status)}
	if raw, ok := tagContent(body, "confidence"); ok {
		verification.Confidence = parseConfidence(raw)
	}
	if reason, ok := tagContent(body, "reason"); ok {
		verification.Reason = reason
	}
	for _, el := range elements(body, "field") {
		name := el.attr("name")
		if name == "" {
			continue
		}
		if verification.Corrections == nil {
			verification.Corrections = make(map[string]string)
		}
		verification.Corrections[name] = el.attr("corrected")
	}
	return verification, nil
}

// applyVerification merges one verdict into the node. Corrections touch
// the name, line range, and properties; a rejection leaves the node as
// extracted but flags it. All three statuses restamp the extraction as
// Tier 2 with the verifier's confidence.
func applyVerification(node *mesh.Node, v *Verification) {
	switch v.Status {
	case StatusCorrected:
		for field, corrected := range v.Corrections {
			if corrected == "" {
				continue
			}
			switch field {
			case "name":
				node.Name = corrected
			case "type":
				node.Type = mesh.ParseNodeType(corrected)
			case "start_line":
				if n, err := strconv.Atoi(corrected); err == nil && n > 0 {
					node.Location.StartLine = n
				}
			case "end_line":
				if n, err := strconv.Atoi(corrected); err == nil && n >= node.Location.StartLine {
					node.Location.EndLine = n
				}
			default:
				if node.Properties == nil {
					node.Properties = make(mesh.Properties)
				}
				node.Properties[field] = mesh.StringValue(corrected)
			}
		}
	case StatusRejected:
		if node.Properties == nil {
			node.Properties = make(mesh.Properties)
		}
		node.Properties["verification"] = mesh.StringValue(string(StatusRejected))
	}

	node.Extraction.Tier = mesh.Tier2
	node.Extraction.Confidence = v.Confidence
	node.Extraction.Timestamp = time.Now().UTC()
}
