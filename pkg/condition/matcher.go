package condition

import (
	"fmt"
	"sync"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

const maxExpressionLength = 4096

// Matcher evaluates rule condition groups. Compiled expressions are cached.
type Matcher struct {
	mu       sync.RWMutex
	compiled map[string]*vm.Program
}

func NewMatcher() *Matcher {
	return &Matcher{compiled: make(map[string]*vm.Program)}
}

// Match reports whether entity satisfies group. An empty group matches.
func (m *Matcher) Match(group models.ConditionGroup, entity *models.Entity) (bool, error) {
	matched := matchConditions(group, entity)
	if !matched || group.Expression == "" {
		return matched, nil
	}

	return m.evaluate(group.Expression, entity.Env())
}

// Compile checks that expression is a valid boolean expression.
func (m *Matcher) Compile(expression string) error {
	_, err := m.program(expression)

	return err
}

func matchConditions(group models.ConditionGroup, entity *models.Entity) bool {
	if len(group.Conditions) == 0 {
		return true
	}

	matchAny := group.Match == models.MatchAny

	for _, c := range group.Conditions {
		actual, _ := entity.Field(c.Field)
		ok := Evaluate(actual, c.Operator, c.Value)

		if matchAny && ok {
			return true
		}

		if !matchAny && !ok {
			return false
		}
	}

	return !matchAny
}

func (m *Matcher) evaluate(expression string, env map[string]any) (bool, error) {
	program, err := m.program(expression)
	if err != nil {
		return false, err
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate expression %q: %w", expression, err)
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, expected bool", expression, out)
	}

	return result, nil
}

func (m *Matcher) program(expression string) (*vm.Program, error) {
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("expression exceeds maximum length of %d characters", maxExpressionLength)
	}

	m.mu.RLock()
	program, ok := m.compiled[expression]
	m.mu.RUnlock()

	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, err)
	}

	m.mu.Lock()
	m.compiled[expression] = program
	m.mu.Unlock()

	return program, nil
}
