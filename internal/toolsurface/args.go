package toolsurface

import "github.com/codegraph/querycore/pkg/codegraph"

// argString reads a string-valued argument. ok is false if the key is
// absent or not a string.
func argString(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// argStringDefault is argString with a fallback.
func argStringDefault(args map[string]any, key, def string) string {
	if s, ok := argString(args, key); ok {
		return s
	}
	return def
}

// argInt reads an integer-valued argument. JSON numbers decode to float64,
// so this also accepts that shape. Returns def if absent or of the wrong
// type.
func argInt(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

// argBool reads a boolean-valued argument, defaulting to false.
func argBool(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// argStringSlice reads a string-array argument, tolerating either
// []string or []any (the shape produced by decoding arbitrary JSON).
func argStringSlice(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// argNodeID reads and parses a hex-encoded node id argument.
func argNodeID(args map[string]any, key string) (codegraph.NodeID, error) {
	s, ok := argString(args, key)
	if !ok || s == "" {
		return codegraph.NodeID{}, &codegraph.InvalidArgument{Field: key, Reason: "must be a node id string"}
	}
	id, err := codegraph.ParseNodeID(s)
	if err != nil {
		return codegraph.NodeID{}, &codegraph.InvalidArgument{Field: key, Reason: err.Error()}
	}
	return id, nil
}

// argNodeIDSlice parses a list of hex-encoded node id arguments.
func argNodeIDSlice(args map[string]any, key string) ([]codegraph.NodeID, error) {
	strs := argStringSlice(args, key)
	if len(strs) == 0 {
		return nil, &codegraph.InvalidArgument{Field: key, Reason: "must be a non-empty array of node id strings"}
	}
	out := make([]codegraph.NodeID, len(strs))
	for i, s := range strs {
		id, err := codegraph.ParseNodeID(s)
		if err != nil {
			return nil, &codegraph.InvalidArgument{Field: key, Reason: err.Error()}
		}
		out[i] = id
	}
	return out, nil
}
