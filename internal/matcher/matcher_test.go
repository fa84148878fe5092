package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		symbol  string
		want    bool
	}{
		{"wildcard include", []string{"*"}, nil, "AAPL", true},
		{"exact include", []string{"AAPL"}, nil, "AAPL", true},
		{"not included", []string{"AAPL"}, nil, "MSFT", false},
		{"empty include serves nothing", nil, nil, "AAPL", false},
		{"exclude wins", []string{"*"}, []string{"AAPL"}, "AAPL", false},
		{"exclude pattern", []string{"*"}, []string{"BRK*"}, "BRK-B", false},
		{"exclude misses", []string{"*"}, []string{"BRK*"}, "AAPL", true},
		{"prefix include", []string{"AA*"}, nil, "AAPL", true},
		{"case-insensitive include", []string{"aapl"}, nil, "AAPL", true},
		{"case-insensitive symbol", []string{"AAPL"}, nil, "aapl", true},
		{"case-insensitive exclude", []string{"*"}, []string{"brk*"}, "BRK-B", false},
		{"whitespace trimmed", []string{" AAPL "}, nil, "AAPL", true},
		{"blank include entries serve nothing", []string{" ", ""}, nil, "AAPL", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.include, tt.exclude)
			assert.Equal(t, tt.want, m.Match(tt.symbol))
		})
	}
}
