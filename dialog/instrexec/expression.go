package instrexec

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

// Evaluator evaluates transition conditions and {{ }} templates in action
// params with expr-lang.
type Evaluator struct {
	templateRegex *regexp.Regexp
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		templateRegex: regexp.MustCompile(`\{\{([^}]+)\}\}`),
	}
}

// Condition evaluates a transition condition. The empty condition, "always"
// and "true" hold without compiling anything.
func (e *Evaluator) Condition(condition string, env map[string]any) (bool, error) {
	switch strings.TrimSpace(condition) {
	case "", "always", "true":
		return true, nil
	case "false", "never":
		return false, nil
	}

	program, err := expr.Compile(condition, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile %q: %w", condition, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run %q: %w", condition, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// Render replaces templates inside data. A string that is only a template
// keeps the evaluated type, templates inside longer strings are formatted.
func (e *Evaluator) Render(data any, env map[string]any) (any, error) {
	return e.render(reflect.ValueOf(data), env)
}

// RenderParams renders every value of params.
func (e *Evaluator) RenderParams(params map[string]any, env map[string]any) (map[string]any, error) {
	if len(params) == 0 {
		return map[string]any{}, nil
	}
	out, err := e.Render(params, env)
	if err != nil {
		return nil, err
	}
	rendered, _ := out.(map[string]any)
	return rendered, nil
}

func (e *Evaluator) render(val reflect.Value, env map[string]any) (any, error) {
	if !val.IsValid() {
		return nil, nil
	}
	if val.Kind() == reflect.Ptr || val.Kind() == reflect.Interface {
		if val.IsNil() {
			return nil, nil
		}
		val = val.Elem()
	}

	switch val.Kind() {
	case reflect.String:
		return e.renderString(val.String(), env)

	case reflect.Map:
		out := make(map[string]any, val.Len())
		for _, key := range val.MapKeys() {
			v, err := e.render(val.MapIndex(key), env)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(key.Interface())] = v
		}
		return out, nil

	case reflect.Slice:
		out := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			v, err := e.render(val.Index(i), env)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	default:
		return val.Interface(), nil
	}
}

func (e *Evaluator) renderString(s string, env map[string]any) (any, error) {
	matches := e.templateRegex.FindStringSubmatch(s)
	if matches == nil {
		return s, nil
	}

	if s == matches[0] {
		return e.eval(strings.TrimSpace(matches[1]), env)
	}

	var evalErr error
	out := e.templateRegex.ReplaceAllStringFunc(s, func(match string) string {
		code := strings.TrimSpace(e.templateRegex.FindStringSubmatch(match)[1])
		v, err := e.eval(code, env)
		if err != nil {
			evalErr = err
			return match
		}
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return out, nil
}

func (e *Evaluator) eval(code string, env map[string]any) (any, error) {
	if v, ok := lookupPath(env, code); ok {
		return v, nil
	}
	program, err := expr.Compile(code, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", code, err)
	}
	return expr.Run(program, env)
}

// lookupPath resolves dotted paths like vars.name without compiling.
func lookupPath(data map[string]any, path string) (any, bool) {
	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
