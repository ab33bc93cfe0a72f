package account

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name       string
		username   string
		credential string
		wantErr    bool
	}{
		{name: "valid", username: "alice", credential: "hash1"},
		{name: "empty username", username: "", credential: "hash1", wantErr: true},
		{name: "empty credential", username: "alice", credential: "", wantErr: true},
		{name: "username with colon", username: "al:ice", credential: "hash1", wantErr: true},
		{name: "username with space", username: "al ice", credential: "hash1", wantErr: true},
		{name: "username too long", username: strings.Repeat("a", 51), credential: "hash1", wantErr: true},
		{name: "credential may contain colon", username: "alice", credential: "a:b:c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCredentials(tt.username, tt.credential)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAccount)
				return
			}
			require.NoError(t, err)
		})
	}
}
