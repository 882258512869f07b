package verify

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// WrapConfigLoad attaches the offending path to a config-loading error.
func WrapConfigLoad(path string, err error) error {
	return fmt.Errorf("plverify: loading config %q: %w", path, err)
}

// wireConstraint is the on-disk representation of a PLConstraint: a small
// tagged union keyed by Kind, since msgpack has no native notion of a Go
// interface value.
type wireConstraint struct {
	Kind    string
	ID      int
	A, B    int // ReLU/Sign: B, F; Max: Out
	Sources []int
}

func toWireConstraint(c PLConstraint) (wireConstraint, error) {
	switch v := c.(type) {
	case *ReLUConstraint:
		return wireConstraint{Kind: "relu", ID: v.id, A: v.B, B: v.F}, nil
	case *SignConstraint:
		return wireConstraint{Kind: "sign", ID: v.id, A: v.B, B: v.F}, nil
	case *MaxConstraint:
		return wireConstraint{Kind: "max", ID: v.id, A: v.Out, Sources: append([]int(nil), v.Sources...)}, nil
	default:
		return wireConstraint{}, fmt.Errorf("plverify: unknown constraint kind %T", c)
	}
}

func fromWireConstraint(w wireConstraint) (PLConstraint, error) {
	switch w.Kind {
	case "relu":
		return NewReLUConstraint(w.ID, w.A, w.B), nil
	case "sign":
		return NewSignConstraint(w.ID, w.A, w.B), nil
	case "max":
		return NewMaxConstraint(w.ID, w.A, w.Sources), nil
	default:
		return nil, fmt.Errorf("plverify: unknown wire constraint kind %q", w.Kind)
	}
}

// wireQuery is the serialized form of an InputQuery.
type wireQuery struct {
	Variables       []*Variable
	Equations       []*Equation
	Constraints     []wireConstraint
	InputVars       []int
	OutputVars      []int
	DebugAssignment map[int]float64
}

// SaveInputQuery encodes q as msgpack and writes it to path.
func SaveInputQuery(path string, q *InputQuery) error {
	w := wireQuery{
		Variables:       q.variables,
		Equations:       q.equations,
		InputVars:       q.inputVars,
		OutputVars:      q.outputVars,
		DebugAssignment: q.debugAssignment,
	}
	for _, c := range q.constraints {
		wc, err := toWireConstraint(c)
		if err != nil {
			return err
		}
		w.Constraints = append(w.Constraints, wc)
	}
	data, err := msgpack.Marshal(w)
	if err != nil {
		return fmt.Errorf("plverify: encoding query: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadInputQuery reads and decodes a msgpack-encoded InputQuery.
func LoadInputQuery(path string) (*InputQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plverify: reading query %q: %w", path, err)
	}
	var w wireQuery
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("plverify: decoding query %q: %w", path, err)
	}
	q := &InputQuery{
		variables:       w.Variables,
		equations:       w.Equations,
		inputVars:       w.InputVars,
		outputVars:      w.OutputVars,
		debugAssignment: w.DebugAssignment,
	}
	for _, wc := range w.Constraints {
		c, err := fromWireConstraint(wc)
		if err != nil {
			return nil, err
		}
		q.constraints = append(q.constraints, c)
	}
	return q, nil
}
