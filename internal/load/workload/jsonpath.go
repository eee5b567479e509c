package workload

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractJSON extracts a value from a JSON document using a JSONPath expression.
func ExtractJSON(body []byte, path string) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty JSON document")
	}
	if path == "" {
		return "", fmt.Errorf("empty JSONPath expression")
	}

	result := gjson.GetBytes(body, toGjsonPath(path))
	if !result.Exists() {
		return "", fmt.Errorf("path not found: %s", path)
	}

	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// toGjsonPath converts a JSONPath expression to gjson syntax.
//
// JSONPath: $.users[0].name
// gjson:    users.0.name
func toGjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return "@this"
	}
	path = strings.TrimPrefix(path, ".")

	// Bracket notation with quotes: ['name'] or ["name"]
	path = strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "").Replace(path)

	// Index notation: [0] -> .0
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)

	return strings.TrimPrefix(path, ".")
}
