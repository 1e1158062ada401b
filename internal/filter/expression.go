package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

type LogicalOperator string

const (
	AND LogicalOperator = "AND"
	OR  LogicalOperator = "OR"
)

// Criterion is a single field/operator/value test.
type Criterion struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// Group combines its criteria with GroupOperator.
type Group struct {
	GroupOperator LogicalOperator `json:"groupOperator"`
	Criteria      []Criterion     `json:"criteria"`
}

// Expression combines its groups with LogicalOperator.
type Expression struct {
	Conditions      []Group         `json:"conditions"`
	LogicalOperator LogicalOperator `json:"logicalOperator"`
}

// Parse decodes a JSON filter expression.
func Parse(data []byte) (Expression, error) {
	var expr Expression
	if err := json.Unmarshal(data, &expr); err != nil {
		return Expression{}, fmt.Errorf("decode filter expression: %w", err)
	}
	return expr, nil
}

// Hash returns a stable sha256 of the expression's JSON form. It is stored on
// the campaign when its audience is snapshotted.
func Hash(expr Expression) string {
	b, _ := json.Marshal(expr)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
