// Package schema implements the fixed JSON Schema subset used to gate
// contracts: type, const, enum, properties, required, additionalProperties,
// items, minItems/maxItems, pattern, minLength/maxLength, minimum/maximum and
// local $ref. Nothing here performs I/O except Registry, which reads schema
// documents from a directory.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/aspace-os/contractguard/pkg/contracts"
)

// RootPath names the top of the validated document in violation paths.
const RootPath = "Root"

const (
	maxRefDepth   = 32
	maxPatternLen = 1024
	maxSubjectLen = 1 << 20
	maxShownValue = 256
)

// Violation is a single failed constraint.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return "[" + v.Path + "] " + v.Message
}

// Outcome is the result of one validation call.
type Outcome struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// Messages renders every violation as "[path] message".
func (o Outcome) Messages() []string {
	out := make([]string, len(o.Violations))
	for i, v := range o.Violations {
		out[i] = v.String()
	}
	return out
}

// Log joins the rendered violations with newlines, the form stored in the
// ledger's validation log.
func (o Outcome) Log() string {
	return strings.Join(o.Messages(), "\n")
}

// Fail builds an invalid outcome with a single violation at Root.
func Fail(format string, args ...any) Outcome {
	return Outcome{Violations: []Violation{{Path: RootPath, Message: fmt.Sprintf(format, args...)}}}
}

// Validate checks data against root, resolving $ref against root itself.
// Every violation in the tree is collected.
func Validate(data any, root map[string]any) Outcome {
	v := &validator{root: root, patterns: map[string]*regexp.Regexp{}}
	v.node(data, root, RootPath)
	return Outcome{Valid: len(v.violations) == 0, Violations: v.violations}
}

type validator struct {
	root       map[string]any
	patterns   map[string]*regexp.Regexp
	violations []Violation
}

func (v *validator) add(path, format string, args ...any) {
	v.violations = append(v.violations, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) node(data any, node map[string]any, path string) {
	if node == nil {
		return
	}

	s, err := v.effective(node)
	if err != nil {
		v.add(path, "Reference error: %v", err)
		return
	}

	if n, ok := data.(json.Number); ok {
		if _, ok := contracts.ToFloat64(n); !ok {
			v.add(path, "Number out of range: %s", truncate(n.String()))
			return
		}
	}

	if declared, ok := s["type"]; ok {
		if !v.checkType(data, declared, path) {
			return
		}
	}

	v.checkConstEnum(data, s, path)

	switch d := data.(type) {
	case map[string]any:
		v.checkObject(d, s, path)
	case []any:
		v.checkArray(d, s, path)
	case string:
		v.checkString(d, s, path)
	default:
		if f, ok := contracts.ToFloat64(data); ok {
			v.checkNumber(data, f, s, path)
		}
	}
}

// effective folds any $ref chain into a single node. Fields on the
// referencing node win over the resolved node's fields.
func (v *validator) effective(node map[string]any) (map[string]any, error) {
	cur := node
	for depth := 0; ; depth++ {
		raw, ok := cur["$ref"]
		if !ok {
			return cur, nil
		}
		ref, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("$ref must be a string, got %s", jsonText(raw))
		}
		if depth >= maxRefDepth {
			return nil, fmt.Errorf("reference cycle: %s", ref)
		}
		target, err := ResolveRef(v.root, ref)
		if err != nil {
			return nil, err
		}
		// The target's own $ref, if any, survives the merge and is followed
		// on the next pass.
		merged := make(map[string]any, len(target)+len(cur))
		for k, val := range target {
			merged[k] = val
		}
		for k, val := range cur {
			if k == "$ref" {
				continue
			}
			merged[k] = val
		}
		cur = merged
	}
}

// ResolveRef walks a local "#/a/b" pointer through root; "#" alone is the
// root itself. Any other form is refused: schemas never reach outside their
// own document.
func ResolveRef(root map[string]any, ref string) (map[string]any, error) {
	if ref == "#" {
		return root, nil
	}
	if !strings.HasPrefix(ref, "#/") {
		return nil, fmt.Errorf("external $ref not supported (sovereignty): %s", ref)
	}
	var cur any = root
	for _, seg := range strings.Split(ref, "/")[1:] {
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[seg]
			if !ok {
				return nil, fmt.Errorf("unresolved reference: %s", ref)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, fmt.Errorf("unresolved reference: %s", ref)
			}
			cur = c[idx]
		default:
			return nil, fmt.Errorf("unresolved reference: %s", ref)
		}
	}
	m, ok := cur.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("reference target is not a schema object: %s", ref)
	}
	return m, nil
}

// actualType names the JSON type of a decoded value.
func actualType(data any) string {
	switch data.(type) {
	case nil:
		return "null"
	case json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if _, ok := contracts.ToFloat64(data); ok {
		return "number"
	}
	return fmt.Sprintf("%T", data)
}

// checkType reports whether recursion may continue into data.
func (v *validator) checkType(data any, declared any, path string) bool {
	var wants []string
	switch d := declared.(type) {
	case string:
		wants = []string{d}
	case []any:
		for _, w := range d {
			s, ok := w.(string)
			if !ok {
				v.add(path, "Invalid schema keyword type: %s", jsonText(declared))
				return false
			}
			wants = append(wants, s)
		}
	default:
		v.add(path, "Invalid schema keyword type: %s", jsonText(declared))
		return false
	}

	actual := actualType(data)
	floatForInteger := false
	for _, want := range wants {
		if want == "integer" || want == "number" {
			f, ok := contracts.ToFloat64(data)
			if !ok {
				continue
			}
			if want == "integer" && !isWhole(f) {
				floatForInteger = true
				continue
			}
			return true
		}
		if want == actual {
			return true
		}
	}

	if floatForInteger {
		// Numeric data of the right family: flag it but keep checking bounds.
		v.add(path, "Expected integer, received float %s", formatNumber(data))
		return true
	}
	v.add(path, "Invalid type: expected %s, received %s", strings.Join(wants, "|"), actual)
	return false
}

func isWhole(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f)
}

func (v *validator) checkConstEnum(data any, s map[string]any, path string) {
	if c, ok := s["const"]; ok && !Equal(data, c) {
		v.add(path, "Invalid const value: expected %s, received %s", jsonText(c), jsonText(data))
	}
	raw, ok := s["enum"]
	if !ok {
		return
	}
	options, ok := raw.([]any)
	if !ok {
		v.add(path, "Invalid schema keyword enum: must be an array")
		return
	}
	for _, opt := range options {
		if Equal(data, opt) {
			return
		}
	}
	shown := make([]string, len(options))
	for i, opt := range options {
		if str, ok := opt.(string); ok {
			shown[i] = str
		} else {
			shown[i] = jsonText(opt)
		}
	}
	v.add(path, "Value not in enum: received %s, expected one of [%s]", jsonText(data), strings.Join(shown, ", "))
}

func (v *validator) checkObject(obj map[string]any, s map[string]any, path string) {
	if raw, ok := s["required"]; ok {
		names, ok := stringList(raw)
		if !ok {
			v.add(path, "Invalid schema keyword required: must be an array of strings")
		}
		for _, name := range names {
			if _, present := obj[name]; !present {
				v.add(path, "Missing required field: %s", name)
			}
		}
	}

	props, _ := s["properties"].(map[string]any)
	closed := false
	if ap, ok := s["additionalProperties"].(bool); ok && !ap {
		closed = true
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		child, declared := props[key]
		if declared {
			if cs, ok := child.(map[string]any); ok {
				v.node(obj[key], cs, path+"."+key)
			} else if b, ok := child.(bool); ok && !b {
				v.add(path, "Property not allowed: %s", key)
			}
			continue
		}
		if closed {
			v.add(path, "Property not allowed: %s", key)
		}
	}
}

func (v *validator) checkArray(arr []any, s map[string]any, path string) {
	n := float64(len(arr))
	if lo, raw, ok := numKeyword(s, "minItems"); ok && n < lo {
		v.add(path, "Too few elements: min %s", formatNumber(raw))
	}
	if hi, raw, ok := numKeyword(s, "maxItems"); ok && n > hi {
		v.add(path, "Too many elements: max %s", formatNumber(raw))
	}
	items, ok := s["items"].(map[string]any)
	if !ok {
		return
	}
	for i, item := range arr {
		v.node(item, items, fmt.Sprintf("%s[%d]", path, i))
	}
}

func (v *validator) checkString(str string, s map[string]any, path string) {
	if raw, ok := s["pattern"]; ok {
		v.checkPattern(str, raw, path)
	}
	minLen, minRaw, hasMin := numKeyword(s, "minLength")
	maxLen, maxRaw, hasMax := numKeyword(s, "maxLength")
	if !hasMin && !hasMax {
		return
	}
	n := float64(utf8.RuneCountInString(norm.NFC.String(str)))
	if hasMin && n < minLen {
		v.add(path, "Too short: min %s", formatNumber(minRaw))
	}
	if hasMax && n > maxLen {
		v.add(path, "Too long: max %s", formatNumber(maxRaw))
	}
}

func (v *validator) checkPattern(str string, raw any, path string) {
	src, ok := raw.(string)
	if !ok {
		v.add(path, "Invalid pattern: must be a string")
		return
	}
	re, err := v.compile(src)
	if err != nil {
		v.add(path, "Invalid pattern: %v", err)
		return
	}
	if len(str) > maxSubjectLen {
		v.add(path, "Value too large for pattern check: %d bytes", len(str))
		return
	}
	if !re.MatchString(str) {
		v.add(path, "Invalid format (regex): %s", truncate(str))
	}
}

func (v *validator) compile(src string) (*regexp.Regexp, error) {
	if re, ok := v.patterns[src]; ok {
		return re, nil
	}
	if len(src) > maxPatternLen {
		return nil, fmt.Errorf("pattern exceeds %d bytes", maxPatternLen)
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, err
	}
	v.patterns[src] = re
	return re, nil
}

func (v *validator) checkNumber(data any, f float64, s map[string]any, path string) {
	if raw, ok := s["minimum"]; ok {
		if lo, ok := contracts.ToFloat64(raw); ok && f < lo {
			v.add(path, "Value too low: %s < minimum %s", formatNumber(data), formatNumber(raw))
		}
	}
	if raw, ok := s["maximum"]; ok {
		if hi, ok := contracts.ToFloat64(raw); ok && f > hi {
			v.add(path, "Value too high: %s > maximum %s", formatNumber(data), formatNumber(raw))
		}
	}
}

// Equal compares two decoded JSON values structurally. Numbers compare by
// value regardless of their Go representation.
func Equal(a, b any) bool {
	if fa, ok := contracts.ToFloat64(a); ok {
		fb, ok := contracts.ToFloat64(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

func stringList(raw any) ([]string, bool) {
	switch r := raw.(type) {
	case []string:
		return r, true
	case []any:
		out := make([]string, 0, len(r))
		for _, item := range r {
			s, ok := item.(string)
			if !ok {
				return out, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// numKeyword reads a numeric bound. Lengths compare against it as floats so
// fractional and very large bounds keep their value.
func numKeyword(s map[string]any, key string) (float64, any, bool) {
	raw, ok := s[key]
	if !ok {
		return 0, nil, false
	}
	f, ok := contracts.ToFloat64(raw)
	if !ok {
		return 0, nil, false
	}
	return f, raw, true
}

func formatNumber(v any) string {
	if n, ok := v.(json.Number); ok {
		return n.String()
	}
	f, ok := contracts.ToFloat64(v)
	if !ok {
		return jsonText(v)
	}
	if math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return truncate(string(b))
}

func truncate(s string) string {
	if len(s) <= maxShownValue {
		return s
	}
	cut := maxShownValue
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
