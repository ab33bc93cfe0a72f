package chat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/andy6609/chat-server/internal/account"
)

type CommandKind int

const (
	CommandChat CommandKind = iota
	CommandLogin
	CommandRegister
	CommandLoad
)

func (k CommandKind) String() string {
	switch k {
	case CommandLogin:
		return "login"
	case CommandRegister:
		return "register"
	case CommandLoad:
		return "load"
	default:
		return "chat"
	}
}

// Command is the parsed form of an envelope's text.
type Command struct {
	Kind       CommandKind
	Username   string
	Credential string
	Limit      int
}

// CommandParser turns envelope text into a Command.
type CommandParser struct {
	DefaultLimit int
	MaxLimit     int
}

func NewCommandParser(defaultLimit, maxLimit int) CommandParser {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return CommandParser{DefaultLimit: defaultLimit, MaxLimit: maxLimit}
}

// Parse never fails for chat text. For /login and /register it returns the
// command kind together with an ErrMalformedCommand when the payload is bad.
func (p CommandParser) Parse(text string) (Command, error) {
	name, args := splitCommand(text)
	switch name {
	case "/login":
		return parseCredentials(CommandLogin, args)
	case "/register":
		return parseCredentials(CommandRegister, args)
	case "/load":
		return Command{Kind: CommandLoad, Limit: p.limit(args)}, nil
	default:
		return Command{Kind: CommandChat}, nil
	}
}

func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	name, args, _ := strings.Cut(text, " ")
	return name, strings.TrimSpace(args)
}

func parseCredentials(kind CommandKind, args string) (Command, error) {
	cmd := Command{Kind: kind}
	username, credential, ok := strings.Cut(args, ":")
	if !ok {
		return cmd, fmt.Errorf("%w: expected <user>:<credential>", ErrMalformedCommand)
	}
	cmd.Username = username
	if err := account.ValidateCredentials(username, credential); err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	cmd.Credential = credential
	return cmd, nil
}

func (p CommandParser) limit(args string) int {
	first, _, _ := strings.Cut(args, " ")
	n, err := strconv.Atoi(first)
	if err != nil || n <= 0 {
		return p.DefaultLimit
	}
	return min(n, p.MaxLimit)
}
