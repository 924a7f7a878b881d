package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const lintResourceURL = "mem://contractguard/schema.json"

// Lint checks a schema document for authoring problems: conformance to the
// draft-07 meta-schema, $ref targets that are external or missing, and
// patterns RE2 cannot compile. It never loads anything over the network.
func Lint(doc map[string]any) []Violation {
	var out []Violation

	if err := metaCheck(doc); err != nil {
		out = append(out, Violation{Path: RootPath, Message: "Schema does not conform to draft-07: " + oneLine(err.Error())})
	}

	walkSchema(doc, RootPath, func(node map[string]any, path string) {
		if raw, ok := node["$ref"]; ok {
			ref, isStr := raw.(string)
			switch {
			case !isStr:
				out = append(out, Violation{Path: path, Message: "Reference error: $ref must be a string"})
			default:
				if _, err := ResolveRef(doc, ref); err != nil {
					out = append(out, Violation{Path: path, Message: "Reference error: " + err.Error()})
				}
			}
		}
		if raw, ok := node["pattern"]; ok {
			if src, isStr := raw.(string); isStr {
				if len(src) > maxPatternLen {
					out = append(out, Violation{Path: path, Message: fmt.Sprintf("Invalid pattern: pattern exceeds %d bytes", maxPatternLen)})
				} else if _, err := regexp.Compile(src); err != nil {
					out = append(out, Violation{Path: path, Message: "Invalid pattern: " + err.Error()})
				}
			}
		}
	})
	return out
}

func metaCheck(doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	c.LoadURL = func(s string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("external schema loading disabled: %s", s)
	}
	if err := c.AddResource(lintResourceURL, bytes.NewReader(raw)); err != nil {
		return err
	}
	_, err = c.Compile(lintResourceURL)
	return err
}

// walkSchema visits every schema-valued position reachable through
// properties, items and definitions, in sorted key order.
func walkSchema(node map[string]any, path string, visit func(map[string]any, string)) {
	visit(node, path)
	for _, kw := range []string{"properties", "definitions", "$defs"} {
		children, ok := node[kw].(map[string]any)
		if !ok {
			continue
		}
		keys := make([]string, 0, len(children))
		for k := range children {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if child, ok := children[k].(map[string]any); ok {
				childPath := path + "." + k
				if kw != "properties" {
					childPath = path + "#" + kw + "/" + k
				}
				walkSchema(child, childPath, visit)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		walkSchema(items, path+"[]", visit)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
