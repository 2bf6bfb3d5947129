package mesh

import (
	"encoding/json"
	"fmt"
)

// Target is the destination of an edge. It is either resolved to a node id
// or an unresolved symbolic name (e.g. a class imported from another file
// or another project). The two states are kept distinct rather than
// overloading a single id field.
type Target struct {
	id   string
	name string
}

// ResolvedTarget returns a Target pointing at an existing node id.
func ResolvedTarget(nodeID string) Target {
	return Target{id: nodeID}
}

// UnresolvedTarget returns a Target carrying a symbolic name to be
// resolved later.
func UnresolvedTarget(name string) Target {
	return Target{name: name}
}

// Resolved reports whether the target points at a known node.
func (t Target) Resolved() bool { return t.id != "" }

// NodeID returns the node id for a resolved target, or "" if unresolved.
func (t Target) NodeID() string { return t.id }

// Name returns the symbolic name for an unresolved target, or "" if resolved.
func (t Target) Name() string { return t.name }

// IsZero reports whether the target carries neither an id nor a name.
func (t Target) IsZero() bool { return t.id == "" && t.name == "" }

func (t Target) String() string {
	if t.Resolved() {
		return t.id
	}
	return "?" + t.name
}

type targetJSON struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// MarshalJSON encodes the target as {"id": ...} or {"name": ...}.
func (t Target) MarshalJSON() ([]byte, error) {
	return json.Marshal(targetJSON{ID: t.id, Name: t.name})
}

// UnmarshalJSON decodes either form. A payload carrying both fields is
// rejected so the resolved/unresolved distinction cannot be smuggled away.
func (t *Target) UnmarshalJSON(data []byte) error {
	var raw targetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID != "" && raw.Name != "" {
		return fmt.Errorf("edge target carries both id %q and name %q", raw.ID, raw.Name)
	}
	t.id = raw.ID
	t.name = raw.Name
	return nil
}
