package llmgateway

import (
	"fmt"
	"regexp"
)

var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.:-]+$`)

// ModelID is a parsed `provider/model_name` identifier (spec §6).
type ModelID struct {
	Provider string
	Model    string
}

// String reconstructs the canonical "provider/model" form.
func (m ModelID) String() string {
	return m.Provider + "/" + m.Model
}

// ParseModelID validates and splits a model identifier. It rejects strings
// without exactly one '/'.
func ParseModelID(id string) (ModelID, error) {
	if !modelIDPattern.MatchString(id) {
		return ModelID{}, NewGatewayError(KindConfigError, "", id, fmt.Errorf("invalid model identifier %q", id))
	}
	for i := 0; i < len(id); i++ {
		if id[i] == '/' {
			rest := id[i+1:]
			for j := 0; j < len(rest); j++ {
				if rest[j] == '/' {
					return ModelID{}, NewGatewayError(KindConfigError, "", id, fmt.Errorf("model identifier %q must contain exactly one '/'", id))
				}
			}
			return ModelID{Provider: id[:i], Model: rest}, nil
		}
	}
	return ModelID{}, NewGatewayError(KindConfigError, "", id, fmt.Errorf("invalid model identifier %q", id))
}
