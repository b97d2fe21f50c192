// Package artifacts persists registered artifacts and enforces that no two
// artifacts share a normalized source URL.
package artifacts

import (
	"fmt"
	"regexp"
	"strings"
)

// Type is the artifact category.
type Type string

const (
	TypeModel   Type = "model"
	TypeDataset Type = "dataset"
	TypeCode    Type = "code"
)

// Types lists every artifact type in a stable order.
var Types = []Type{TypeModel, TypeDataset, TypeCode}

// ParseType validates s as an artifact type.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.TrimSpace(s)); t {
	case TypeModel, TypeDataset, TypeCode:
		return t, nil
	default:
		return "", fmt.Errorf("artifact_type must be one of: model, dataset, code")
	}
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ValidID reports whether id is a well formed artifact id.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Metadata identifies an artifact.
type Metadata struct {
	Name string `json:"name"`
	ID   string `json:"id"`
	Type Type   `json:"type"`
}

// Data carries the artifact source location.
type Data struct {
	URL string `json:"url"`
}

// Artifact is the persisted record.
type Artifact struct {
	Metadata Metadata `json:"metadata"`
	Data     Data     `json:"data"`
}

// Ref addresses an artifact by type and id.
type Ref struct {
	Type Type
	ID   string
}

func (r Ref) String() string {
	return string(r.Type) + "/" + r.ID
}

// ParseRef is the inverse of Ref.String.
func ParseRef(s string) (Ref, error) {
	typ, id, ok := strings.Cut(s, "/")
	if !ok {
		return Ref{}, fmt.Errorf("malformed artifact ref %q", s)
	}
	t, err := ParseType(typ)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Type: t, ID: id}, nil
}
