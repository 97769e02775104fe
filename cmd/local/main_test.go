package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{
			name: "defaults",
			want: options{limit: 5},
		},
		{
			name: "start zero is a station",
			args: []string{"-start", "0"},
			want: options{start: 0, hasStart: true, limit: 5},
		},
		{
			name: "pair with live",
			args: []string{"-start", "1", "-end", "0", "-live", "-limit", "3"},
			want: options{start: 1, hasStart: true, end: 0, hasEnd: true, live: true, limit: 3},
		},
		{
			name: "zero limit",
			args: []string{"-start", "4", "-limit", "0"},
			want: options{start: 4, hasStart: true},
		},
		{
			name:    "negative limit",
			args:    []string{"-start", "4", "-limit", "-1"},
			wantErr: true,
		},
		{
			name:    "unknown flag",
			args:    []string{"-verbose"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
