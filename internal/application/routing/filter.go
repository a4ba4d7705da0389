package routing

import (
	"errors"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/farmbridge/farmbridge/internal/domain/consultation"
)

// Filter is a compiled subscription filter expression, evaluated against
// the event's flattened parameters. Dashboards use it to narrow a role
// subscription, e.g. `status == 'pending' && eventType == 'insert'`.
type Filter struct {
	src  string
	expr *govaluate.EvaluableExpression
}

// CompileFilter parses expression. Empty input yields a nil filter (match
// everything); "true"/"false" literals short-circuit.
func CompileFilter(expression string) (*Filter, error) {
	src := strings.TrimSpace(expression)
	if src == "" {
		return nil, nil
	}
	expr, err := govaluate.NewEvaluableExpression(src)
	if err != nil {
		return nil, err
	}
	return &Filter{src: src, expr: expr}, nil
}

func (f *Filter) String() string { return f.src }

// Match evaluates the filter against ev.
func (f *Filter) Match(ev consultation.ChangeEvent) (bool, error) {
	switch strings.ToLower(f.src) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	result, err := f.expr.Evaluate(eventParams(ev))
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, errors.New("filter did not evaluate to boolean")
	}
	return b, nil
}

func eventParams(ev consultation.ChangeEvent) map[string]interface{} {
	c := ev.Consultation
	params := map[string]interface{}{
		"eventType":      string(ev.Type),
		"status":         string(c.Status),
		"topic":          c.Topic,
		"consultationId": c.ConsultationID.String(),
		"farmerId":       c.FarmerID.String(),
		"expertId":       "",
		"assigned":       c.ExpertID != nil,
		"instant":        c.ScheduledFor == nil,
		"version":        float64(c.Version),
	}
	if c.ExpertID != nil {
		params["expertId"] = c.ExpertID.String()
	}
	return params
}
