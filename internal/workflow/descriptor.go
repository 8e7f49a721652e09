package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"comfybatch/internal/apperrors"
)

// canonical node keys, matched case-insensitively on load
const (
	keyClassType = "class_type"
	keyType      = "type"
	keyInputs    = "inputs"
	inputImage   = "image"
)

// Node one processing node of a workflow descriptor
type Node struct {
	ClassType string
	Type      string
	Inputs    map[string]json.RawMessage
	extra     map[string]json.RawMessage // unrecognised fields, e.g. _meta
}

// NodeView read-only view of a node
type NodeView struct {
	ID        string
	ClassType string
	Type      string
	Inputs    map[string]json.RawMessage
}

// Kind returns class_type, or type when class_type is absent
func (v NodeView) Kind() string {
	if v.ClassType != "" {
		return v.ClassType
	}
	return v.Type
}

// UnmarshalJSON decodes a node, normalising the casing of known keys
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("node is not an object: %w", err)
	}

	n.extra = make(map[string]json.RawMessage)
	for key, value := range raw {
		switch strings.ToLower(key) {
		case keyClassType:
			n.ClassType = decodeString(value)
		case keyType:
			n.Type = decodeString(value)
		case keyInputs:
			if err := json.Unmarshal(value, &n.Inputs); err != nil {
				return fmt.Errorf("inputs is not an object: %w", err)
			}
		default:
			n.extra[key] = value
		}
	}
	return nil
}

// MarshalJSON encodes the node with canonical key names
func (n *Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(n.extra)+3)
	for key, value := range n.extra {
		out[key] = value
	}
	if n.ClassType != "" {
		out[keyClassType] = n.ClassType
	}
	if n.Type != "" {
		out[keyType] = n.Type
	}
	inputs := n.Inputs
	if inputs == nil {
		inputs = map[string]json.RawMessage{}
	}
	out[keyInputs] = inputs
	return json.Marshal(out)
}

func decodeString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Descriptor workflow descriptor: node id -> node, in file order
type Descriptor struct {
	nodes *orderedmap.OrderedMap[string, *Node]
}

// Parse decodes and validates a descriptor
func Parse(data []byte) (*Descriptor, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, apperrors.Errorf(apperrors.KindValidation, "parse workflow", "descriptor must be a JSON object")
	}

	nodes := orderedmap.New[string, *Node]()
	if err := json.Unmarshal(trimmed, nodes); err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "parse workflow", err)
	}
	if nodes.Len() == 0 {
		return nil, apperrors.Errorf(apperrors.KindValidation, "parse workflow", "descriptor has no nodes")
	}
	for pair := nodes.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			return nil, apperrors.Errorf(apperrors.KindValidation, "parse workflow", "node %q is null", pair.Key)
		}
	}

	return &Descriptor{nodes: nodes}, nil
}

// Load reads and parses a descriptor file
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.New(apperrors.KindIO, "read workflow", err)
	}
	return Parse(data)
}

// Len number of nodes
func (d *Descriptor) Len() int {
	return d.nodes.Len()
}

// IDs node ids in file order
func (d *Descriptor) IDs() []string {
	ids := make([]string, 0, d.nodes.Len())
	for pair := d.nodes.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}

// Node returns a view of the node with the given id
func (d *Descriptor) Node(id string) (NodeView, bool) {
	n, ok := d.nodes.Get(id)
	if !ok {
		return NodeView{}, false
	}
	return NodeView{ID: id, ClassType: n.ClassType, Type: n.Type, Inputs: n.Inputs}, true
}

// SetImageInput patches inputs.image of the given node in place
func (d *Descriptor) SetImageInput(id, remotePath string) error {
	n, ok := d.nodes.Get(id)
	if !ok {
		return apperrors.Errorf(apperrors.KindValidation, "patch workflow", "node %q not found", id)
	}
	value, err := json.Marshal(remotePath)
	if err != nil {
		return apperrors.New(apperrors.KindValidation, "patch workflow", err)
	}
	if n.Inputs == nil {
		n.Inputs = make(map[string]json.RawMessage)
	}
	n.Inputs[inputImage] = value
	return nil
}

// ImageInput returns the current inputs.image value of a node
func (d *Descriptor) ImageInput(id string) (string, bool) {
	n, ok := d.nodes.Get(id)
	if !ok || n.Inputs == nil {
		return "", false
	}
	raw, ok := n.Inputs[inputImage]
	if !ok {
		return "", false
	}
	return decodeString(raw), true
}

// MarshalJSON encodes the descriptor preserving node order
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.nodes)
}
