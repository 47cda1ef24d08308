package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain", input: "Alice", want: "Alice"},
		{name: "trims and collapses whitespace", input: "  Alice   W  ", want: "Alice W"},
		{name: "allows digits and punctuation subset", input: "agent_47.beta-2", want: "agent_47.beta-2"},
		{name: "unicode letters", input: "Жанна", want: "Жанна"},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "angle brackets", input: "<Alice>", wantErr: true},
		{name: "at sign", input: "@Alice", wantErr: true},
		{name: "too long", input: strings.Repeat("a", MaxNameLength+1), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeName(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestPlaceholderNameDeterministic(t *testing.T) {
	require.Equal(t, placeholderName("conn-a"), placeholderName("conn-a"))
	require.NotEqual(t, placeholderName("conn-a"), placeholderName("conn-b"))
	require.Regexp(t, `^guest-[0-9a-f]{4}$`, placeholderName("conn-a"))
}
