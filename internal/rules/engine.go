package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"livedesk/pkg/types"
)

// Record is the flat-ish document a rule is evaluated against. Values are
// resolved by dot path, so nested maps are reachable as "a.b.c".
type Record map[string]interface{}

// predicate is one compiled condition check over a record.
type predicate func(record Record) bool

// compiledRule pairs a rule definition with its compiled predicate set
// ARCHITECTURAL DISCOVERY: Conditions compile once at load time into a typed
// predicate tree - evaluation never re-parses documents or regex patterns
type compiledRule struct {
	rule       *types.RoutingRule
	predicates []predicate
}

// matches reports whether every predicate accepts the record. A rule with no
// conditions is a wildcard and matches everything.
func (c *compiledRule) matches(record Record) bool {
	for _, p := range c.predicates {
		if !p(record) {
			return false
		}
	}
	return true
}

// Engine evaluates routing rules against records
// FUNCTIONAL DISCOVERY: Rules are held priority-descending and evaluation is
// first-match-wins, so rule authors reason about a single total order
type Engine struct {
	mu    sync.RWMutex
	rules []*compiledRule
}

// NewEngine creates an empty rule engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Load compiles and installs a rule set, replacing any previous set.
// Inactive rules are skipped. Returns an error naming the first rule that
// fails to compile - the previous set stays installed on failure.
func (e *Engine) Load(ruleSet []*types.RoutingRule) error {
	compiled := make([]*compiledRule, 0, len(ruleSet))

	for _, rule := range ruleSet {
		if rule == nil {
			return fmt.Errorf("%w: nil rule", ErrInvalidRule)
		}
		if !rule.IsActive {
			continue
		}

		predicates, err := compileConditions(rule.Conditions)
		if err != nil {
			return fmt.Errorf("rule %s (%s): %w", rule.ID, rule.Name, err)
		}

		compiled = append(compiled, &compiledRule{rule: rule, predicates: predicates})
	}

	// TECHNICAL DISCOVERY: Stable sort preserves load order among equal
	// priorities so ties resolve deterministically
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].rule.Priority > compiled[j].rule.Priority
	})

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()

	return nil
}

// MatchOptions carries the per-record state that gates rule applicability.
type MatchOptions struct {
	// IsAssigned indicates the record's session already has an active
	// assignment; rules with SkipIfAssigned set will not fire.
	IsAssigned bool

	// Applications maps rule ID to how many times that rule has already
	// been applied to this record. Rules at their MaxApplications cap
	// will not fire.
	Applications map[string]int
}

// Match returns the highest-priority rule whose conditions accept the
// record, or nil when no rule fires.
func (e *Engine) Match(record Record, opts MatchOptions) *types.RoutingRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, c := range e.rules {
		if opts.IsAssigned && c.rule.SkipIfAssigned {
			continue
		}
		if c.rule.MaxApplications > 0 && opts.Applications[c.rule.ID] >= c.rule.MaxApplications {
			continue
		}
		if c.matches(record) {
			return c.rule
		}
	}

	return nil
}

// Size returns the number of active compiled rules.
func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// compileConditions turns a conditions document into predicates.
// FUNCTIONAL DISCOVERY: Scalar values mean strict equality; a nested map is
// an ANDed operator set ({"$gte": 3, "$lt": 10}); all paths AND together
func compileConditions(conditions map[string]interface{}) ([]predicate, error) {
	if len(conditions) == 0 {
		return nil, nil
	}

	// Deterministic compile order helps error messages stay stable.
	paths := make([]string, 0, len(conditions))
	for path := range conditions {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var predicates []predicate
	for _, path := range paths {
		expected := conditions[path]

		operators, isOperatorSet := expected.(map[string]interface{})
		if !isOperatorSet {
			predicates = append(predicates, compileEquality(path, expected))
			continue
		}

		opNames := make([]string, 0, len(operators))
		for op := range operators {
			opNames = append(opNames, op)
		}
		sort.Strings(opNames)

		for _, op := range opNames {
			p, err := compileOperator(path, op, operators[op])
			if err != nil {
				return nil, err
			}
			predicates = append(predicates, p)
		}
	}

	return predicates, nil
}

func compileEquality(path string, expected interface{}) predicate {
	return func(record Record) bool {
		actual, ok := resolvePath(record, path)
		if !ok {
			return false
		}
		return looseEqual(actual, expected)
	}
}

func compileOperator(path, op string, operand interface{}) (predicate, error) {
	switch op {
	case "$eq":
		return compileEquality(path, operand), nil

	case "$ne":
		eq := compileEquality(path, operand)
		return func(record Record) bool {
			if _, ok := resolvePath(record, path); !ok {
				return true
			}
			return !eq(record)
		}, nil

	case "$gt", "$gte", "$lt", "$lte":
		return func(record Record) bool {
			actual, ok := resolvePath(record, path)
			if !ok {
				return false
			}
			cmp, comparable := compareValues(actual, operand)
			if !comparable {
				return false
			}
			switch op {
			case "$gt":
				return cmp > 0
			case "$gte":
				return cmp >= 0
			case "$lt":
				return cmp < 0
			default:
				return cmp <= 0
			}
		}, nil

	case "$in", "$nin":
		candidates, ok := operand.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s requires an array operand", ErrInvalidRule, op, path)
		}
		return func(record Record) bool {
			actual, found := resolvePath(record, path)
			if !found {
				return op == "$nin"
			}
			member := false
			for _, candidate := range candidates {
				if looseEqual(actual, candidate) {
					member = true
					break
				}
			}
			if op == "$in" {
				return member
			}
			return !member
		}, nil

	case "$regex":
		pattern, ok := operand.(string)
		if !ok {
			return nil, fmt.Errorf("%w: $regex on %s requires a string operand", ErrInvalidRule, path)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPattern, path, err)
		}
		return func(record Record) bool {
			actual, found := resolvePath(record, path)
			if !found {
				return false
			}
			s, isString := actual.(string)
			if !isString {
				return false
			}
			return re.MatchString(s)
		}, nil

	case "$exists":
		want, ok := operand.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: $exists on %s requires a bool operand", ErrInvalidRule, path)
		}
		return func(record Record) bool {
			_, found := resolvePath(record, path)
			return found == want
		}, nil

	case "$contains":
		needle, ok := operand.(string)
		if !ok {
			return nil, fmt.Errorf("%w: $contains on %s requires a string operand", ErrInvalidRule, path)
		}
		lowered := strings.ToLower(needle)
		return func(record Record) bool {
			actual, found := resolvePath(record, path)
			if !found {
				return false
			}
			s, isString := actual.(string)
			if !isString {
				return false
			}
			return strings.Contains(strings.ToLower(s), lowered)
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownOperator, op, path)
	}
}

// resolvePath walks nested maps by dot-separated path segments.
func resolvePath(record Record, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")

	var current interface{} = map[string]interface{}(record)
	for _, segment := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}

	if current == nil {
		return nil, false
	}
	return current, true
}

// looseEqual compares values with numeric coercion so 3, int64(3) and 3.0
// all compare equal. Non-numeric values require exact type equality.
func looseEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

// compareValues returns -1/0/1 and whether the pair was comparable.
func compareValues(a, b interface{}) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	as, aIsString := a.(string)
	bs, bIsString := b.(string)
	if aIsString && bIsString {
		return strings.Compare(as, bs), true
	}

	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		// Strings never coerce implicitly; numeric strings from config
		// are parsed only when they round-trip cleanly.
		if f, err := strconv.ParseFloat(n, 64); err == nil && looksNumeric(n) {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || (i == 0 && (r == '-' || r == '+')) {
			continue
		}
		return false
	}
	return true
}
