package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/types"
)

// Compile turns a row predicate into a program that can be run against change events. An empty expression
// compiles to nil, which matches everything.
func Compile(expression string) (*vm.Program, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, nil
	}
	prog, err := expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("could not compile filter %q: %w", expression, err)
	}
	return prog, nil
}

// NewEnv builds the filter environment for a change event.
func NewEnv(event *types.ChangeEvent) Env {
	return Env{
		Table:    event.Table,
		Kind:     string(event.Kind),
		RecordId: event.RecordId,
		Record:   event.Record,
		Created:  event.Created.Unix(),
	}
}

// Match runs the compiled predicate. A nil program matches every event, a failing program matches none.
func Match(prog *vm.Program, event *types.ChangeEvent) bool {
	if event == nil {
		return false
	}
	if prog == nil {
		return true
	}
	res, err := expr.Run(prog, NewEnv(event))
	if err != nil {
		globals.AppLogger.Debug("could not run filter", "error", err, "table", event.Table, "record", event.RecordId)
		return false
	}
	ok, _ := res.(bool)
	return ok
}

// FieldEquals builds the predicate `Record["field"] == "value"`.
func FieldEquals(field, value string) string {
	return fmt.Sprintf(`Record[%s] == %s`, strconv.Quote(field), strconv.Quote(value))
}

// And joins predicates, skipping empty ones.
func And(predicates ...string) string {
	parts := make([]string, 0, len(predicates))
	for _, p := range predicates {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, "("+p+")")
		}
	}
	return strings.Join(parts, " && ")
}

// KindIs restricts a subscription to one change kind.
func KindIs(kind types.ChangeKind) string {
	return fmt.Sprintf(`Kind == %s`, strconv.Quote(string(kind)))
}
