// Package nodes is the built-in node library: transforms, routers,
// sinks, and triggers registered against noderuntime.Global via init(),
// matching the teacher's internal/node/runtime/nodes package.
package nodes

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

func stringConfig(cfg map[string]interface{}, key, def string) string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func boolConfig(cfg map[string]interface{}, key string, def bool) bool {
	if v, ok := cfg[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func intConfig(cfg map[string]interface{}, key string, def int) int {
	if v, ok := cfg[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func toNumber(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		n, _ := strconv.ParseFloat(val, 64)
		return n
	}
	return 0
}

func toBool(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	case float64:
		return val != 0
	}
	return v != nil
}

func convertType(v interface{}, targetType string) interface{} {
	switch targetType {
	case "string":
		return fmt.Sprintf("%v", v)
	case "number":
		return toNumber(v)
	case "boolean":
		return toBool(v)
	case "json":
		if s, ok := v.(string); ok {
			var parsed interface{}
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				return parsed
			}
		}
		return v
	default:
		return v
	}
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func setNestedValue(m map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")
	current := m
	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		nested, ok := current[part].(map[string]interface{})
		if !ok {
			nested = make(map[string]interface{})
			current[part] = nested
		}
		current = nested
	}
	current[parts[len(parts)-1]] = value
}

func fieldValue(data map[string]interface{}, field string) interface{} {
	if field == "" {
		return data
	}
	var current interface{} = data
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func evaluateCondition(fieldVal interface{}, operator string, compareVal interface{}) bool {
	switch operator {
	case "equals", "equal", "==":
		return compareEqual(fieldVal, compareVal)
	case "notEquals", "notEqual", "!=":
		return !compareEqual(fieldVal, compareVal)
	case "contains":
		return strings.Contains(fmt.Sprintf("%v", fieldVal), fmt.Sprintf("%v", compareVal))
	case "notContains":
		return !strings.Contains(fmt.Sprintf("%v", fieldVal), fmt.Sprintf("%v", compareVal))
	case "startsWith":
		return strings.HasPrefix(fmt.Sprintf("%v", fieldVal), fmt.Sprintf("%v", compareVal))
	case "endsWith":
		return strings.HasSuffix(fmt.Sprintf("%v", fieldVal), fmt.Sprintf("%v", compareVal))
	case "greaterThan", ">":
		return toNumber(fieldVal) > toNumber(compareVal)
	case "greaterThanOrEqual", ">=":
		return toNumber(fieldVal) >= toNumber(compareVal)
	case "lessThan", "<":
		return toNumber(fieldVal) < toNumber(compareVal)
	case "lessThanOrEqual", "<=":
		return toNumber(fieldVal) <= toNumber(compareVal)
	case "isEmpty":
		return isEmpty(fieldVal)
	case "isNotEmpty":
		return !isEmpty(fieldVal)
	case "isNull":
		return fieldVal == nil
	case "isNotNull":
		return fieldVal != nil
	case "isTrue":
		return toBool(fieldVal)
	case "isFalse":
		return !toBool(fieldVal)
	case "regex", "matches":
		re, err := regexp.Compile(fmt.Sprintf("%v", compareVal))
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprintf("%v", fieldVal))
	case "in":
		return isIn(fieldVal, compareVal)
	case "notIn":
		return !isIn(fieldVal, compareVal)
	default:
		return false
	}
}

func compareEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	}
	return false
}

func isIn(v, list interface{}) bool {
	vStr := fmt.Sprintf("%v", v)
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice {
		if s, ok := list.(string); ok {
			for _, p := range strings.Split(s, ",") {
				if strings.TrimSpace(p) == vStr {
					return true
				}
			}
		}
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if fmt.Sprintf("%v", rv.Index(i).Interface()) == vStr {
			return true
		}
	}
	return false
}
