package scrape

import (
	"encoding/json"
	"sort"
	"strings"
)

// ExtractEmbeddedJSON locates the JSON object assigned after anchor in
// an HTML document and decodes it. The object boundary is found with a
// brace-balanced scan that honors string literals and escapes; a regex
// truncates on the first nested close brace, so one must never be used
// here. Returns false when the anchor or a decodable object is absent.
func ExtractEmbeddedJSON(html, anchor string) (map[string]any, bool) {
	at := strings.Index(html, anchor)
	if at < 0 {
		return nil, false
	}
	rest := html[at+len(anchor):]
	open := strings.IndexByte(rest, '{')
	if open < 0 {
		return nil, false
	}
	raw, ok := scanBalanced(rest[open:])
	if !ok {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}
	return out, true
}

// scanBalanced returns the prefix of s forming one complete JSON
// object. s must start at '{'.
func scanBalanced(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// CollectMaps walks an arbitrarily nested decoded JSON tree and
// returns every object found under the given key, in first-seen
// depth-first order. Object keys are visited sorted so the order is
// deterministic; callers rely on it for tie-breaking.
func CollectMaps(root any, key string) []map[string]any {
	var out []map[string]any
	var walk func(node any)
	walk = func(node any) {
		switch v := node.(type) {
		case map[string]any:
			if hit, ok := v[key].(map[string]any); ok {
				out = append(out, hit)
			}
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(v[k])
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(root)
	return out
}

// DigMap follows a path of keys through nested objects, returning nil
// when any hop is missing.
func DigMap(root map[string]any, path ...string) map[string]any {
	cur := root
	for _, k := range path {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// DigString follows a path whose final hop is a string value.
func DigString(root map[string]any, path ...string) string {
	if len(path) == 0 {
		return ""
	}
	parent := root
	if len(path) > 1 {
		parent = DigMap(root, path[:len(path)-1]...)
		if parent == nil {
			return ""
		}
	}
	s, _ := parent[path[len(path)-1]].(string)
	return s
}

// ExtractText flattens a YouTube text object, which is either
// {"simpleText": ...} or {"runs": [{"text": ...}, ...]}.
func ExtractText(textObj any) string {
	if textObj == nil {
		return ""
	}
	if s, ok := textObj.(string); ok {
		return s
	}
	m, ok := textObj.(map[string]any)
	if !ok {
		return ""
	}
	if simple, ok := m["simpleText"].(string); ok {
		return simple
	}
	if runs, ok := m["runs"].([]any); ok {
		var parts []string
		for _, run := range runs {
			if rm, ok := run.(map[string]any); ok {
				if text, ok := rm["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "")
	}
	return ""
}
