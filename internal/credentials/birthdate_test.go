package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBirthdate(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1990-01-15", want: "900115"},
		{in: "900115", want: "900115"},
		{in: "2001-12-31", want: "011231"},
		{in: "19900115", wantErr: true},
		{in: "90-01-15", wantErr: true},
		{in: "901315", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := FormatBirthdate(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				if tt.in != "" {
					assert.NotContains(t, err.Error(), tt.in)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "3020717230451", DigitsOnly("302-0717-2304-51"))
	assert.Equal(t, "", DigitsOnly("--"))
}
