package link

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/draagon/codemesh/internal/mesh"
)

// DefaultLinkFloor is the minimum match confidence that becomes a link.
const DefaultLinkFloor = 0.7

// edgePairs maps a reference type to its forward/backward edge types.
var edgePairs = map[mesh.ReferenceType][2]mesh.EdgeType{
	mesh.RefQueue: {mesh.EdgePublishesTo, mesh.EdgeSubscribesTo},
	mesh.RefAPI:   {mesh.EdgeCallsService, mesh.EdgeHandledBy},
	mesh.RefTable: {mesh.EdgeWritesTo, mesh.EdgeReadsFrom},
}

// Linker converts matched reference pairs into link records and
// bidirectional mesh edges.
type Linker struct {
	matcher *Matcher
	floor   float64
	logger  *slog.Logger
}

// LinkerOption configures a Linker.
type LinkerOption func(*Linker)

// WithLinkFloor overrides the acceptance floor.
func WithLinkFloor(floor float64) LinkerOption {
	return func(l *Linker) {
		if floor > 0 {
			l.floor = floor
		}
	}
}

// WithLinkerLogger sets the linker's logger.
func WithLinkerLogger(logger *slog.Logger) LinkerOption {
	return func(l *Linker) { l.logger = logger }
}

// NewLinker creates a Linker over a reference matcher.
func NewLinker(matcher *Matcher, opts ...LinkerOption) *Linker {
	l := &Linker{matcher: matcher, floor: DefaultLinkFloor, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Link matches every producer-capable reference of each project against
// the consumer-capable references of every other project. Accepted
// matches become one CrossProjectLink and two mesh edges tagged with
// both project ids and the resolution method. Config references feed the
// resolver but are never linked directly.
func (l *Linker) Link(projects map[string][]mesh.ExternalReference) ([]mesh.CrossProjectLink, []mesh.Edge) {
	ids := make([]string, 0, len(projects))
	for id := range projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		links []mesh.CrossProjectLink
		edges []mesh.Edge
		seen  = map[string]bool{}
	)
	for _, producerProject := range ids {
		for _, consumerProject := range ids {
			if producerProject == consumerProject {
				continue
			}
			for _, producer := range projects[producerProject] {
				if producer.Type == mesh.RefConfig {
					continue
				}
				for _, consumer := range projects[consumerProject] {
					if consumer.Type != producer.Type || !canExchange(producer.Direction, consumer.Direction) {
						continue
					}

					m := l.matcher.Match(producer, consumer)
					if !m.Matched || m.Confidence < l.floor {
						continue
					}
					if key := pairKey(producer, consumer); seen[key] {
						continue
					} else {
						seen[key] = true
					}

					link := mesh.CrossProjectLink{
						ID:         uuid.New().String(),
						Producer:   producer,
						Consumer:   consumer,
						Method:     m.Method,
						Confidence: m.Confidence,
					}
					links = append(links, link)
					edges = append(edges, l.linkEdges(link)...)

					l.logger.Info("cross-project link",
						"type", string(producer.Type),
						"identifier", producer.Identifier,
						"producer_project", producerProject,
						"consumer_project", consumerProject,
						"method", string(m.Method),
						"confidence", m.Confidence)
				}
			}
		}
	}
	return links, edges
}

// pairKey is order-independent so a both/both pairing links once, not
// once per direction of iteration.
func pairKey(a, b mesh.ExternalReference) string {
	lo, hi := a.SourceNodeID, b.SourceNodeID
	if lo > hi {
		lo, hi = hi, lo
	}
	return string(a.Type) + "|" + lo + "|" + hi
}

func (l *Linker) linkEdges(link mesh.CrossProjectLink) []mesh.Edge {
	pair, ok := edgePairs[link.Producer.Type]
	if !ok {
		return nil
	}
	meta := mesh.Extraction{
		Confidence: link.Confidence,
		Timestamp:  time.Now().UTC(),
	}
	props := mesh.Properties{
		"source_project": mesh.StringValue(link.Producer.ProjectID),
		"target_project": mesh.StringValue(link.Consumer.ProjectID),
		"method":         mesh.StringValue(string(link.Method)),
	}
	return []mesh.Edge{
		{
			ID:         uuid.New().String(),
			Type:       pair[0],
			From:       link.Producer.SourceNodeID,
			To:         mesh.ResolvedTarget(link.Consumer.SourceNodeID),
			Properties: props,
			Extraction: meta,
		},
		{
			ID:         uuid.New().String(),
			Type:       pair[1],
			From:       link.Consumer.SourceNodeID,
			To:         mesh.ResolvedTarget(link.Producer.SourceNodeID),
			Properties: props.Clone(),
			Extraction: meta,
		},
	}
}
