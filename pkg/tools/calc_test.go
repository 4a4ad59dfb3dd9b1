package tools

import (
	"math"
	"testing"
)

func TestEvalArithmetic(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"2 + 2", 4},
		{"2 + 2 * (3 - 1)", 6},
		{"10/4", 2.5},
		{"10 // 4", 2},
		{"10 % 3", 1},
		{"2 ** 10", 1024},
		{"2 ** 3 ** 2", 512}, // right associative
		{"-5 + 3", -2},
		{"--4", 4},
		{"-(2 + 3)", -5},
		{"1.5 * 2", 3},
		{"(1 + 2) * (3 + 4)", 21},
		{"  7  ", 7},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvalArithmetic(tt.expr)
			if err != nil {
				t.Fatalf("EvalArithmetic(%q) failed: %v", tt.expr, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EvalArithmetic(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalArithmeticErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"identifier", "import os"},
		{"function call", "abs(-1)"},
		{"trailing garbage", "1 + 2 x"},
		{"unclosed paren", "(1 + 2"},
		{"division by zero", "1 / 0"},
		{"floor division by zero", "1 // 0"},
		{"mod by zero", "1 % 0"},
		{"bare operator", "*"},
		{"double dot", "1..2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EvalArithmetic(tt.expr); err == nil {
				t.Errorf("EvalArithmetic(%q) should fail", tt.expr)
			}
		})
	}
}
