package filter

import (
	"encoding/json"
	"fmt"
)

// wireNode is the JSON shape every expression round-trips through: enough to
// reconstruct Binary/Unary/Logical nodes and reject malformed payloads, for
// use by scheduled handlers that only have a serialized
// where-expression to resume with.
type wireNode struct {
	Kind     string          `json:"kind"`
	Op       string          `json:"op"`
	Field    string          `json:"field,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Operand  *wireNode       `json:"operand,omitempty"`
	Operands []*wireNode     `json:"operands,omitempty"`
}

// MarshalExpr serializes expr to its wire form.
func MarshalExpr(expr Expr) ([]byte, error) {
	node, err := toWire(expr)
	if err != nil {
		return nil, err
	}
	return json.Marshal(node)
}

// UnmarshalExpr parses expr's wire form, rejecting malformed payloads: a
// missing operand, or a binary node without a field as its first operand.
func UnmarshalExpr(data []byte) (Expr, error) {
	var node wireNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("filter: malformed expression payload: %w", err)
	}
	return fromWire(&node)
}

func toWire(expr Expr) (*wireNode, error) {
	switch e := expr.(type) {
	case *BinaryExpr:
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("filter: marshal binary value: %w", err)
		}
		return &wireNode{Kind: "binary", Op: string(e.Op), Field: e.Field.Name, Value: val}, nil
	case *UnaryExpr:
		n := &wireNode{Kind: "unary", Op: string(e.Op)}
		if e.Op == Not {
			operand, err := toWire(e.Operand)
			if err != nil {
				return nil, err
			}
			n.Operand = operand
		} else {
			n.Field = e.Target.Name
		}
		return n, nil
	case *LogicalExpr:
		n := &wireNode{Kind: "logical", Op: string(e.Op)}
		for _, sub := range e.Exprs {
			w, err := toWire(sub)
			if err != nil {
				return nil, err
			}
			n.Operands = append(n.Operands, w)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("filter: unknown expression type %T", expr)
	}
}

func fromWire(n *wireNode) (Expr, error) {
	if n == nil {
		return nil, fmt.Errorf("filter: missing expression node")
	}
	switch n.Kind {
	case "binary":
		if n.Field == "" {
			return nil, fmt.Errorf("filter: binary node %q missing field reference", n.Op)
		}
		var value any
		if len(n.Value) > 0 {
			if err := json.Unmarshal(n.Value, &value); err != nil {
				return nil, fmt.Errorf("filter: binary node %q has malformed value: %w", n.Op, err)
			}
		}
		return &BinaryExpr{Op: BinaryOp(n.Op), Field: Field{Name: n.Field}, Value: value}, nil
	case "unary":
		switch UnaryOp(n.Op) {
		case OpIsNull, OpIsNotNull:
			if n.Field == "" {
				return nil, fmt.Errorf("filter: unary node %q missing field reference", n.Op)
			}
			return &UnaryExpr{Op: UnaryOp(n.Op), Target: Field{Name: n.Field}}, nil
		case Not:
			if n.Operand == nil {
				return nil, fmt.Errorf("filter: not node missing operand")
			}
			operand, err := fromWire(n.Operand)
			if err != nil {
				return nil, err
			}
			return &UnaryExpr{Op: Not, Operand: operand}, nil
		default:
			return nil, fmt.Errorf("filter: unknown unary operator %q", n.Op)
		}
	case "logical":
		if len(n.Operands) == 0 {
			return nil, fmt.Errorf("filter: logical node %q has no operands", n.Op)
		}
		exprs := make([]Expr, 0, len(n.Operands))
		for _, sub := range n.Operands {
			e, err := fromWire(sub)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, e)
		}
		return &LogicalExpr{Op: LogicalOp(n.Op), Exprs: exprs}, nil
	default:
		return nil, fmt.Errorf("filter: unknown expression kind %q", n.Kind)
	}
}
