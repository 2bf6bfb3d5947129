// Package link runs the cross-project post-pass: collect externally
// visible references (queues, API routes, tables, config keys) from each
// project's extracted mesh, match producers against consumers across
// project boundaries, and emit cross-project links plus the mesh edges
// that make them traversable.
package link

import (
	"github.com/draagon/codemesh/internal/mesh"
)

// identifierProperties are checked in order when a node's reference
// identifier lives in its property bag rather than its name.
var identifierProperties = []string{"queue", "topic", "target", "url", "endpoint", "table"}

// CollectReferences scans a project's extraction result and emits the
// externally visible references of every file. Node roles map to
// reference type and direction:
//
//	Queue/Topic              queue  both (the resource itself)
//	Consumer                 queue  consume
//	Producer                 queue  produce
//	ApiEndpoint              api    consume (it serves the route)
//	ExternalService          api    produce (it calls out)
//	Table/Model              table  both
//	ConfigKey                config both
func CollectReferences(result *mesh.ProjectResult) []mesh.ExternalReference {
	var refs []mesh.ExternalReference
	for _, fr := range result.Files {
		for _, n := range fr.Nodes {
			ref, ok := referenceFor(n)
			if !ok {
				continue
			}
			ref.ProjectID = result.ProjectID
			ref.SourceFile = fr.File
			refs = append(refs, ref)
		}
	}
	return refs
}

func referenceFor(n mesh.Node) (mesh.ExternalReference, bool) {
	var (
		refType mesh.ReferenceType
		dir     mesh.ReferenceDirection
	)
	switch n.Type {
	case mesh.NodeQueue, mesh.NodeTopic:
		refType, dir = mesh.RefQueue, mesh.DirectionBoth
	case mesh.NodeConsumer:
		refType, dir = mesh.RefQueue, mesh.DirectionConsume
	case mesh.NodeProducer:
		refType, dir = mesh.RefQueue, mesh.DirectionProduce
	case mesh.NodeApiEndpoint:
		refType, dir = mesh.RefAPI, mesh.DirectionConsume
	case mesh.NodeExternalService:
		refType, dir = mesh.RefAPI, mesh.DirectionProduce
	case mesh.NodeTable, mesh.NodeModel:
		refType, dir = mesh.RefTable, mesh.DirectionBoth
	case mesh.NodeConfigKey:
		refType, dir = mesh.RefConfig, mesh.DirectionBoth
	default:
		return mesh.ExternalReference{}, false
	}

	identifier := nodeIdentifier(n)
	if identifier == "" {
		return mesh.ExternalReference{}, false
	}
	return mesh.ExternalReference{
		Type:         refType,
		Identifier:   identifier,
		Direction:    dir,
		SourceNodeID: n.ID,
		Confidence:   n.Extraction.Confidence,
	}, true
}

// nodeIdentifier prefers a property carrying the concrete resource name
// over the node's display name.
func nodeIdentifier(n mesh.Node) string {
	for _, key := range identifierProperties {
		if v := n.Properties.GetString(key); v != "" {
			return v
		}
	}
	return n.Name
}

// canExchange reports whether a producer-side and consumer-side pairing
// exists between two directions. Two "both" references still exchange.
func canExchange(producer, consumer mesh.ReferenceDirection) bool {
	produces := producer == mesh.DirectionProduce || producer == mesh.DirectionBoth
	consumes := consumer == mesh.DirectionConsume || consumer == mesh.DirectionBoth
	return produces && consumes
}
