package workflow

import (
	"strings"
)

// Type workflow type
type Type string

const (
	TypeUnknown      Type = "unknown"
	TypeTextToImage  Type = "text-to-image"
	TypeImageToImage Type = "image-to-image"
)

// image loader markers matched as substrings of class_type
var imageLoaderMarkers = []string{
	"LoadImageFromUrlOrPath",
	"LoadImage",
}

// IsImageInput reports whether the node loads an input image
func IsImageInput(node NodeView) bool {
	kind := node.Kind()
	if kind == "" {
		return false
	}
	for _, marker := range imageLoaderMarkers {
		if strings.Contains(kind, marker) {
			return true
		}
	}
	return false
}

// ImageInputNodes returns the ids of every image input node, in file order
func ImageInputNodes(d *Descriptor) []string {
	var ids []string
	for _, id := range d.IDs() {
		node, _ := d.Node(id)
		if IsImageInput(node) {
			ids = append(ids, id)
		}
	}
	return ids
}

// FindImageInputNode returns the first image input node in file order.
// ok is false for text-to-image workflows.
func FindImageInputNode(d *Descriptor) (id string, ok bool) {
	for _, nodeID := range d.IDs() {
		node, _ := d.Node(nodeID)
		if IsImageInput(node) {
			return nodeID, true
		}
	}
	return "", false
}

// Classify returns the workflow type and, for image-to-image, the node to patch
func Classify(d *Descriptor) (Type, string) {
	if id, ok := FindImageInputNode(d); ok {
		return TypeImageToImage, id
	}
	return TypeTextToImage, ""
}
