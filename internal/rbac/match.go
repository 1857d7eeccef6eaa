package rbac

import "strings"

func matchResource(permResource, resource string) bool {
	if permResource == "*" || permResource == resource {
		return true
	}
	if strings.HasSuffix(permResource, "*") {
		prefix := permResource[:len(permResource)-1]
		return strings.HasPrefix(resource, prefix)
	}
	return false
}

func matchAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}

// matchPermission reports whether perm grants check, including any
// conditions. A condition whose Value is nil is skipped (treated as
// absent); a condition whose referenced context field is entirely
// missing fails the match, since the condition can't be evaluated true.
func matchPermission(perm Permission, check Check) bool {
	if !matchResource(perm.Resource, check.Resource) {
		return false
	}
	if !matchAction(perm.Actions, check.Action) {
		return false
	}
	if len(perm.Conditions) == 0 {
		return true
	}
	for _, cond := range perm.Conditions {
		if cond.Value == nil {
			continue
		}
		ctxVal, present := check.Context[cond.Field]
		if !present {
			return false
		}
		if !evalCondition(cond, ctxVal) {
			return false
		}
	}
	return true
}

func evalCondition(cond Condition, ctxVal interface{}) bool {
	switch cond.Operator {
	case OpEq:
		return valuesEqual(ctxVal, cond.Value)
	case OpNeq:
		return !valuesEqual(ctxVal, cond.Value)
	case OpIn:
		items, ok := cond.Value.([]interface{})
		if !ok {
			return false
		}
		for _, item := range items {
			if valuesEqual(ctxVal, item) {
				return true
			}
		}
		return false
	case OpNin:
		items, ok := cond.Value.([]interface{})
		if !ok {
			return false
		}
		for _, item := range items {
			if valuesEqual(ctxVal, item) {
				return false
			}
		}
		return true
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat64(ctxVal)
		b, bok := toFloat64(cond.Value)
		if !aok || !bok {
			return false
		}
		switch cond.Operator {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		case OpLte:
			return a <= b
		}
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			return af == bf
		}
	}
	return a == b
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
