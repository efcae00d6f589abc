package aport

import "fmt"

// Extractor resolves the acting agent's identifier from a state map.
// It returns the identifier and whether one was found. Extractors must be
// pure: no side effects, no network access.
type Extractor func(state map[string]any) (string, bool)

// agentIDKeys is the ordered candidate key list for default extraction.
// Order matters: the first present key wins.
var agentIDKeys = []string{"agent_id", "agentId", "agent", "user_id", "userId"}

// ExtractAgentID locates the agent identifier in a state map.
//
// When a custom extractor is supplied its result is returned verbatim,
// including absence. Otherwise the candidate keys are tried in order at the
// top level, then once more inside a nested "config" map if present. Within
// one map the first present key wins; a present key holding an empty value
// counts as absent for that map without consulting later candidate keys.
func ExtractAgentID(state map[string]any, custom Extractor) (string, bool) {
	if custom != nil {
		return custom(state)
	}
	if state == nil {
		return "", false
	}
	if id, ok := lookupAgentID(state); ok {
		return id, true
	}
	if cfg, ok := state["config"].(map[string]any); ok {
		return lookupAgentID(cfg)
	}
	return "", false
}

func lookupAgentID(m map[string]any) (string, bool) {
	for _, key := range agentIDKeys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		var id string
		if s, isString := v.(string); isString {
			id = s
		} else {
			id = fmt.Sprint(v)
		}
		return id, id != ""
	}
	return "", false
}
