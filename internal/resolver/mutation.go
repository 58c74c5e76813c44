package resolver

import "slices"

const (
	MutationChildList     = "childList"
	MutationCharacterData = "characterData"
	MutationAttributes    = "attributes"
)

// Mutation is one MutationRecord reported by the page.
type Mutation struct {
	Type          string `json:"type"`
	AttributeName string `json:"attributeName,omitempty"`
}

// Qualifies reports whether any mutation in the batch can change the
// selected title: structure or text changes, or a change to one of the
// allowed selection attributes.
func Qualifies(batch []Mutation, allowedAttributes []string) bool {
	for _, m := range batch {
		switch m.Type {
		case MutationChildList, MutationCharacterData:
			return true
		case MutationAttributes:
			if slices.Contains(allowedAttributes, m.AttributeName) {
				return true
			}
		}
	}
	return false
}
