package policy

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/ransomeye/core/pkg/rerrors"
)

var (
	exprEnvOnce sync.Once
	exprEnv     *cel.Env
	exprEnvErr  error
)

// celEnv lazily builds the single CEL environment shared by every "expr"
// condition: one dynamic "ctx" map variable mirroring the evaluation
// Context, per §9's polymorphism note (a single escape-hatch mechanism
// rather than a bespoke one per policy).
func celEnv() (*cel.Env, error) {
	exprEnvOnce.Do(func() {
		exprEnv, exprEnvErr = cel.NewEnv(
			cel.Variable("ctx", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return exprEnv, exprEnvErr
}

func evaluateExpr(source string, ctx Context) bool {
	env, err := celEnv()
	if err != nil {
		return false
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return false
	}
	prg, err := env.Program(ast)
	if err != nil {
		return false
	}
	out, _, err := prg.Eval(map[string]interface{}{"ctx": map[string]interface{}(ctx)})
	if err != nil {
		return false
	}
	result, ok := out.Value().(bool)
	return ok && result
}

// requiredContextFields are the fields every evaluation context must
// carry (§4.4).
var requiredContextFields = []string{
	"alert_id", "kill_chain_stage", "alert_severity", "asset_class", "asset_id", "evidence_reference",
}

// Context is the decision context a policy is matched against. It is a
// generic field bag so that match_conditions can reference either the
// six required fields or operator-specific extension fields carried in
// the triggering detection, without the matcher needing to know every
// possible field name in advance.
type Context map[string]interface{}

// Validate rejects a context missing any required field (§4.4).
func (c Context) Validate() error {
	for _, f := range requiredContextFields {
		if _, ok := c[f]; !ok {
			return rerrors.New("policy.Context.Validate", rerrors.SchemaInvalid,
				fmt.Errorf("context missing required field %q", f))
		}
	}
	return nil
}

// Matches reports whether every one of the rule's match conditions holds
// against ctx. An unknown operator or a field absent from ctx is a
// non-match, never an error — unmatched policies are simply excluded.
func (r *Rule) Matches(ctx Context) bool {
	for _, cond := range r.MatchConditions {
		if !evaluateCondition(cond, ctx) {
			return false
		}
	}
	return true
}

func evaluateCondition(cond MatchCondition, ctx Context) bool {
	if cond.Operator == "expr" {
		source, ok := cond.Value.(string)
		if !ok {
			return false
		}
		return evaluateExpr(source, ctx)
	}

	actual, ok := ctx[cond.Field]
	if !ok {
		return false
	}
	switch cond.Operator {
	case "equals":
		return opEquals(actual, cond.Value)
	case "in":
		return opIn(actual, cond.Value)
	case "contains":
		return opContains(actual, cond.Value)
	case "greater_than":
		return opCompare(actual, cond.Value) > 0
	case "less_than":
		return opCompare(actual, cond.Value) < 0
	case "matches":
		return opMatches(actual, cond.Value)
	default:
		return false
	}
}

func opEquals(actual, expected interface{}) bool {
	return fmt.Sprint(actual) == fmt.Sprint(expected) && sameKind(actual, expected)
}

// sameKind prevents the string "5" (actual) from equaling the number 5
// (expected) purely through fmt.Sprint coincidence.
func sameKind(a, b interface{}) bool {
	_, aIsNum := toFloat(a)
	_, bIsNum := toFloat(b)
	return aIsNum == bIsNum
}

func opIn(actual, expected interface{}) bool {
	list, ok := expected.([]interface{})
	if !ok {
		return false
	}
	for _, v := range list {
		if opEquals(actual, v) {
			return true
		}
	}
	return false
}

func opContains(actual, expected interface{}) bool {
	switch a := actual.(type) {
	case []interface{}:
		for _, v := range a {
			if opEquals(v, expected) {
				return true
			}
		}
		return false
	case string:
		sub, ok := expected.(string)
		if !ok {
			return false
		}
		return regexp.MustCompile(regexp.QuoteMeta(sub)).MatchString(a)
	default:
		return false
	}
}

func opCompare(actual, expected interface{}) int {
	af, aok := toFloat(actual)
	ef, eok := toFloat(expected)
	if !aok || !eok {
		return 0
	}
	switch {
	case af > ef:
		return 1
	case af < ef:
		return -1
	default:
		return 0
	}
}

func opMatches(actual, expected interface{}) bool {
	s, ok := actual.(string)
	if !ok {
		return false
	}
	pattern, ok := expected.(string)
	if !ok {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
