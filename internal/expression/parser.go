// Package expression evaluates the {{...}} template syntax used by the
// set_data and template built-in nodes to derive a value from
// the current item, environment variables, and user-declared variables.
// Generalizes the teacher's pkg/expression parser: RustFlow nodes only
// ever see their own input ports, never a shared map of every other
// node's last output, so the $node/$workflow reference forms have no
// equivalent here and are dropped; $json/$env/$vars/$now and the
// $func.* call form carry over unchanged.
package expression

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	expressionPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)
	jsonPattern        = regexp.MustCompile(`^\$json(?:\.|\[)(.+)$`)
	envPattern         = regexp.MustCompile(`^\$env\.(.+)$`)
	datePattern        = regexp.MustCompile(`^\$(now|today|timestamp)$`)
	funcPattern        = regexp.MustCompile(`^\$func\.(\w+)\((.*)\)$`)
)

// Context holds everything one Evaluate call needs.
type Context struct {
	// Item is the current value being transformed, already converted to
	// plain Go types via value.Value.ToGo().
	Item interface{}
	Env  map[string]string
	Vars map[string]interface{}
}

// NewContext creates an empty context ready for EvaluateTemplate use.
func NewContext() *Context {
	return &Context{Env: make(map[string]string), Vars: make(map[string]interface{})}
}

// Parser evaluates expression strings against a Context.
type Parser struct {
	functions map[string]Function
}

// Function is one callable exposed as $func.name(args...).
type Function func(args ...interface{}) (interface{}, error)

// NewParser builds a parser with every built-in function registered.
func NewParser() *Parser {
	p := &Parser{functions: make(map[string]Function)}
	p.registerBuiltinFunctions()
	return p
}

func (p *Parser) registerBuiltinFunctions() {
	p.functions["uppercase"] = funcUppercase
	p.functions["lowercase"] = funcLowercase
	p.functions["trim"] = funcTrim
	p.functions["length"] = funcLength
	p.functions["substring"] = funcSubstring
	p.functions["replace"] = funcReplace
	p.functions["split"] = funcSplit
	p.functions["join"] = funcJoin
	p.functions["contains"] = funcContains
	p.functions["startsWith"] = funcStartsWith
	p.functions["endsWith"] = funcEndsWith
	p.functions["slugify"] = funcSlugify

	p.functions["round"] = funcRound
	p.functions["floor"] = funcFloor
	p.functions["ceil"] = funcCeil
	p.functions["abs"] = funcAbs
	p.functions["min"] = funcMin
	p.functions["max"] = funcMax
	p.functions["sum"] = funcSum
	p.functions["avg"] = funcAvg

	p.functions["now"] = funcNow
	p.functions["formatDate"] = funcFormatDate
	p.functions["parseDate"] = funcParseDate
	p.functions["addDays"] = funcAddDays
	p.functions["addHours"] = funcAddHours

	p.functions["toJson"] = funcToJSON
	p.functions["fromJson"] = funcFromJSON
	p.functions["keys"] = funcKeys
	p.functions["values"] = funcValues

	p.functions["first"] = funcFirst
	p.functions["last"] = funcLast
	p.functions["count"] = funcCount
	p.functions["reverse"] = funcReverse
	p.functions["sort"] = funcSort
	p.functions["unique"] = funcUnique
	p.functions["filter"] = funcFilter
	p.functions["map"] = funcMap

	p.functions["toString"] = funcToString
	p.functions["toNumber"] = funcToNumber
	p.functions["toBoolean"] = funcToBoolean
	p.functions["isNull"] = funcIsNull
	p.functions["isEmpty"] = funcIsEmpty
	p.functions["typeof"] = funcTypeof

	p.functions["if"] = funcIf
	p.functions["default"] = funcDefault
	p.functions["uuid"] = funcUUID
	p.functions["base64Encode"] = funcBase64Encode
	p.functions["base64Decode"] = funcBase64Decode
	p.functions["hash"] = funcHash
}

// Evaluate expands every {{...}} occurrence in expr. A string that is
// entirely one expression returns the expression's native type (e.g. a
// number or object) rather than its string form.
func (p *Parser) Evaluate(expr string, ctx *Context) (interface{}, error) {
	if !strings.Contains(expr, "{{") {
		return expr, nil
	}

	trimmed := strings.TrimSpace(expr)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") && strings.Count(trimmed, "{{") == 1 {
		inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(trimmed, "{{"), "}}"))
		return p.evaluateExpression(inner, ctx)
	}

	result := expressionPattern.ReplaceAllStringFunc(expr, func(match string) string {
		inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(match, "{{"), "}}"))
		val, err := p.evaluateExpression(inner, ctx)
		if err != nil {
			return match
		}
		return toDisplayString(val)
	})
	return result, nil
}

// EvaluateTemplate recursively evaluates every string leaf of a decoded
// JSON/YAML tree (map[string]interface{}, []interface{}, or scalar).
func (p *Parser) EvaluateTemplate(v interface{}, ctx *Context) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return p.Evaluate(t, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			evaluated, err := p.EvaluateTemplate(item, ctx)
			if err != nil {
				return nil, fmt.Errorf("evaluating %q: %w", k, err)
			}
			out[k] = evaluated
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			evaluated, err := p.EvaluateTemplate(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = evaluated
		}
		return out, nil
	default:
		return v, nil
	}
}

func (p *Parser) evaluateExpression(expr string, ctx *Context) (interface{}, error) {
	expr = strings.TrimSpace(expr)

	if m := funcPattern.FindStringSubmatch(expr); len(m) == 3 {
		return p.evaluateFunction(m[1], m[2], ctx)
	}
	if m := jsonPattern.FindStringSubmatch(expr); len(m) == 2 {
		path := strings.TrimPrefix(strings.ReplaceAll(strings.ReplaceAll(m[1], `["`, "."), `"]`, ""), ".")
		return getValueByPath(ctx.Item, path)
	}
	if m := envPattern.FindStringSubmatch(expr); len(m) == 2 {
		return ctx.Env[m[1]], nil
	}
	if m := datePattern.FindStringSubmatch(expr); len(m) == 2 {
		return evaluateDate(m[1])
	}
	if strings.HasPrefix(expr, "$vars.") {
		return ctx.Vars[strings.TrimPrefix(expr, "$vars.")], nil
	}
	if expr == "$json" {
		return ctx.Item, nil
	}

	return expr, nil
}

func evaluateDate(kind string) (interface{}, error) {
	now := time.Now()
	switch kind {
	case "now":
		return now.Format(time.RFC3339), nil
	case "today":
		return now.Format("2006-01-02"), nil
	case "timestamp":
		return now.Unix(), nil
	}
	return nil, fmt.Errorf("unknown date shortcut: %s", kind)
}

func (p *Parser) evaluateFunction(name, argsStr string, ctx *Context) (interface{}, error) {
	fn, exists := p.functions[name]
	if !exists {
		return nil, fmt.Errorf("unknown function: %s", name)
	}
	args, err := p.parseArguments(argsStr, ctx)
	if err != nil {
		return nil, err
	}
	return fn(args...)
}

func (p *Parser) parseArguments(argsStr string, ctx *Context) ([]interface{}, error) {
	if argsStr == "" {
		return nil, nil
	}
	parts := splitArguments(argsStr)
	args := make([]interface{}, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "$"):
			val, err := p.evaluateExpression(part, ctx)
			if err != nil {
				return nil, err
			}
			args[i] = val
		case strings.HasPrefix(part, `"`) && strings.HasSuffix(part, `"`):
			args[i] = strings.Trim(part, `"`)
		case strings.HasPrefix(part, "'") && strings.HasSuffix(part, "'"):
			args[i] = strings.Trim(part, "'")
		case part == "true":
			args[i] = true
		case part == "false":
			args[i] = false
		case part == "null":
			args[i] = nil
		default:
			if num, err := strconv.ParseFloat(part, 64); err == nil {
				args[i] = num
			} else {
				args[i] = part
			}
		}
	}
	return args, nil
}

func getValueByPath(data interface{}, path string) (interface{}, error) {
	if path == "" {
		return data, nil
	}
	current := data
	for _, part := range strings.Split(path, ".") {
		if idx := strings.Index(part, "["); idx != -1 {
			fieldName := part[:idx]
			indexStr := strings.TrimSuffix(part[idx+1:], "]")
			index, err := strconv.Atoi(indexStr)
			if err != nil {
				return nil, fmt.Errorf("invalid array index: %s", indexStr)
			}
			if fieldName != "" {
				var err error
				current, err = getField(current, fieldName)
				if err != nil {
					return nil, err
				}
			}
			arr, ok := current.([]interface{})
			if !ok {
				return nil, fmt.Errorf("expected array at %s", part)
			}
			if index < 0 || index >= len(arr) {
				return nil, fmt.Errorf("array index out of bounds: %d", index)
			}
			current = arr[index]
			continue
		}
		var err error
		current, err = getField(current, part)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func getField(data interface{}, field string) (interface{}, error) {
	switch d := data.(type) {
	case map[string]interface{}:
		v, ok := d[field]
		if !ok {
			return nil, fmt.Errorf("field %q not found", field)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("cannot get field %q from %T", field, data)
	}
}

func splitArguments(s string) []string {
	var result []string
	var cur strings.Builder
	depth := 0
	inString := false
	var stringChar byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			cur.WriteByte(c)
			if c == stringChar && (i == 0 || s[i-1] != '\\') {
				inString = false
			}
			continue
		}
		switch {
		case c == '"' || c == '\'':
			inString = true
			stringChar = c
			cur.WriteByte(c)
		case c == '(' || c == '[' || c == '{':
			depth++
			cur.WriteByte(c)
		case c == ')' || c == ']' || c == '}':
			depth--
			cur.WriteByte(c)
		case c == ',' && depth == 0:
			result = append(result, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		result = append(result, cur.String())
	}
	return result
}

func toDisplayString(v interface{}) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
