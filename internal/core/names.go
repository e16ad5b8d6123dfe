package core

import "regexp"

// Naming rules shared by the sanitizer and the schema loader
var (
	TypeNamePattern         = regexp.MustCompile(`^[A-Z][a-z]+$`)
	RelationshipTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*(_[A-Z0-9]+)*$`)
	AttributeNamePattern    = regexp.MustCompile(`^[a-z][a-zA-Z0-9]*$`)
	CodePattern             = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]*[a-z0-9])?$`)
	IdentifierPattern       = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._:-]{0,127}$`)
)
