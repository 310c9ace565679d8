package basket

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/opencover/merlin/internal/domain"
)

// conditionCache compiles and caches the optional CEL condition a rule
// may carry as a final per-item eligibility gate.
type conditionCache struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newConditionCache() (*conditionCache, error) {
	env, err := cel.NewEnv(
		cel.Variable("currency", cel.StringType),
		cel.Variable("locale", cel.StringType),
		cel.Variable("client", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("product_id", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("mode", cel.StringType),
		cel.Variable("poc", cel.IntType),
		cel.Variable("age", cel.IntType),
		cel.Variable("multi_count", cel.IntType),
		cel.Variable("price_pence", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &conditionCache{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

func (c *conditionCache) program(ruleID, expr string) (cel.Program, error) {
	key := ruleID + "\x00" + expr

	c.mu.RLock()
	prog, ok := c.programs[key]
	c.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition for rule %s: %w", ruleID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: condition must return bool, got %s", ruleID, ast.OutputType())
	}

	prog, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", ruleID, err)
	}

	c.mu.Lock()
	c.programs[key] = prog
	c.mu.Unlock()
	return prog, nil
}

// eval runs a rule's condition against one line item. A compile or
// evaluation error excludes the item.
func (c *conditionCache) eval(ruleID, expr string, item *domain.LineItem) (bool, error) {
	prog, err := c.program(ruleID, expr)
	if err != nil {
		return false, err
	}

	out, _, err := prog.Eval(map[string]any{
		"currency":    item.Currency,
		"locale":      item.Locale,
		"client":      item.Client,
		"source":      item.Source,
		"product_id":  item.ProductID,
		"category":    item.Category,
		"mode":        item.Mode,
		"poc":         int64(item.POC),
		"age":         int64(item.Age),
		"multi_count": int64(item.MultiCount),
		"price_pence": int64(item.PricePence()),
	})
	if err != nil {
		return false, fmt.Errorf("condition evaluation failed for rule %s: %w", ruleID, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %s: condition did not return bool", ruleID)
	}
	return result, nil
}
