package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePredicate(t *testing.T) {
	tests := []struct {
		name       string
		where      string
		binds      []any
		wantSQL    string
		wantParams []any
	}{
		{
			name:       "numeric comparison casts the column",
			where:      "score > 70",
			wantSQL:    "CAST(score AS NUMERIC) > ?",
			wantParams: []any{70.0},
		},
		{
			name:       "string equality",
			where:      "student = 's1'",
			wantSQL:    "student = ?",
			wantParams: []any{"s1"},
		},
		{
			name:       "boolean compares the stored literal",
			where:      "passed = true",
			wantSQL:    "passed = ?",
			wantParams: []any{"true"},
		},
		{
			name:       "conjunction",
			where:      "score >= 35 AND passed != false",
			wantSQL:    "CAST(score AS NUMERIC) >= ? AND passed != ?",
			wantParams: []any{35.0, "false"},
		},
		{
			name:       "placeholder binds",
			where:      "slug = ? and score < ?",
			binds:      []any{"intro", 10.0},
			wantSQL:    "slug = ? AND CAST(score AS NUMERIC) < ?",
			wantParams: []any{"intro", 10.0},
		},
		{
			name:       "like",
			where:      "student LIKE 's%'",
			wantSQL:    "student LIKE ?",
			wantParams: []any{"s%"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := CompilePredicate(tt.where, tt.binds)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantParams, params)
		})
	}
}

func TestCompilePredicate_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		where string
		binds []any
	}{
		{name: "empty", where: ""},
		{name: "injection attempt", where: "1=1; DROP TABLE t"},
		{name: "bare column", where: "score"},
		{name: "missing value", where: "score >"},
		{name: "bad operator", where: "score ~ 3"},
		{name: "or not supported", where: "a = 1 OR b = 2"},
		{name: "placeholder without bind", where: "a = ?"},
		{name: "unused binds", where: "a = 1", binds: []any{"extra"}},
		{name: "unterminated string", where: "a = 'oops"},
		{name: "subquery", where: "a = (SELECT 1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := CompilePredicate(tt.where, tt.binds)
			require.Error(t, err)
		})
	}
}
