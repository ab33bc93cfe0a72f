package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandParser_Parse(t *testing.T) {
	parser := NewCommandParser(10, 50)

	tests := []struct {
		name    string
		text    string
		want    Command
		wantErr bool
	}{
		{name: "plain chat", text: "hello there", want: Command{Kind: CommandChat}},
		{name: "unknown slash command is chat", text: "/shrug", want: Command{Kind: CommandChat}},
		{name: "prefix must be a whole word", text: "/loginalice:x", want: Command{Kind: CommandChat}},
		{name: "login", text: "/login alice:hash1", want: Command{Kind: CommandLogin, Username: "alice", Credential: "hash1"}},
		{name: "credential may contain colon", text: "/login alice:a:b", want: Command{Kind: CommandLogin, Username: "alice", Credential: "a:b"}},
		{name: "register", text: "/register bob:hash2", want: Command{Kind: CommandRegister, Username: "bob", Credential: "hash2"}},
		{name: "login without colon", text: "/login alice", want: Command{Kind: CommandLogin}, wantErr: true},
		{name: "login with empty user", text: "/login :hash", want: Command{Kind: CommandLogin}, wantErr: true},
		{name: "register with empty credential", text: "/register bob:", want: Command{Kind: CommandRegister, Username: "bob"}, wantErr: true},
		{name: "load default", text: "/load", want: Command{Kind: CommandLoad, Limit: 10}},
		{name: "load limit", text: "/load 3", want: Command{Kind: CommandLoad, Limit: 3}},
		{name: "load malformed limit", text: "/load many", want: Command{Kind: CommandLoad, Limit: 10}},
		{name: "load negative limit", text: "/load -4", want: Command{Kind: CommandLoad, Limit: 10}},
		{name: "load clamped", text: "/load 5000", want: Command{Kind: CommandLoad, Limit: 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			got, err := parser.Parse(tt.text)
			if tt.wantErr {
				req.ErrorIs(err, ErrMalformedCommand)
			} else {
				req.NoError(err)
			}
			req.Equal(tt.want, got)
		})
	}
}
