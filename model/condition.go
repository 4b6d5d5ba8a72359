package model

import "fmt"

// Condition kinds. Conditions are data, not code: each transition carries a
// small tree of tagged variants evaluated by the requirement interpreter.
const (
	CondDocumentVerified = "document_verified"
	CondDocumentPresent  = "document_present"
	CondFieldEquals      = "field_equals"
	CondFieldNotEquals   = "field_not_equals"
	CondRequirementsMet  = "requirements_met"
	CondAnd              = "and"
	CondOr               = "or"
	CondNot              = "not"
)

// Condition is one node of a predicate tree gating a transition.
//
//	document_verified: a document of DocumentType exists and is verified
//	document_present:  a document of DocumentType exists
//	field_equals:      application field Field equals Value
//	field_not_equals:  application field Field differs from Value
//	requirements_met:  the source stage's requirements are all satisfied
//	and / or / not:    boolean combinators over Children
type Condition struct {
	Kind         string      `json:"kind" yaml:"kind"`
	DocumentType string      `json:"document_type,omitempty" yaml:"document_type,omitempty"`
	Field        string      `json:"field,omitempty" yaml:"field,omitempty"`
	Value        string      `json:"value,omitempty" yaml:"value,omitempty"`
	Children     []Condition `json:"children,omitempty" yaml:"children,omitempty"`
}

// Validate checks the condition tree for structural soundness.
func (c Condition) Validate() error {
	switch c.Kind {
	case CondDocumentVerified, CondDocumentPresent:
		if c.DocumentType == "" {
			return fmt.Errorf("condition %s: document_type is required", c.Kind)
		}
	case CondFieldEquals, CondFieldNotEquals:
		if c.Field == "" {
			return fmt.Errorf("condition %s: field is required", c.Kind)
		}
	case CondRequirementsMet:
		// No operands.
	case CondAnd, CondOr:
		if len(c.Children) == 0 {
			return fmt.Errorf("condition %s: at least one child is required", c.Kind)
		}
	case CondNot:
		if len(c.Children) != 1 {
			return fmt.Errorf("condition not: exactly one child is required")
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	for _, child := range c.Children {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}
