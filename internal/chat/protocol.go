package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andy6609/chat-server/internal/account"
	"github.com/samber/lo"
)

// Protocol interprets inbound envelopes for one session at a time according
// to the session's state and the command carried in the envelope text.
type Protocol struct {
	registry   *Registry
	accounts   account.Service
	parser     CommandParser
	serverName string
	clock      Clock
	logger     *slog.Logger
}

func NewProtocol(registry *Registry, accounts account.Service, cfg Config, clock Clock, logger *slog.Logger) *Protocol {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		registry:   registry,
		accounts:   accounts,
		parser:     NewCommandParser(cfg.HistoryDefaultLimit, cfg.HistoryMaxLimit),
		serverName: cfg.ServerName,
		clock:      clock,
		logger:     logger,
	}
}

func (p *Protocol) now() string {
	return FormatTimestamp(p.clock())
}

// Handle processes one frame. A non-nil error means the session must be
// terminated: ErrUnauthenticatedAccess, ErrCapacityExceeded or a registry failure.
func (p *Protocol) Handle(ctx context.Context, s *Session, f Frame) error {
	cmd, parseErr := p.parser.Parse(f.Envelope.Text)

	if s.Authenticated() {
		if cmd.Kind == CommandLoad {
			FramesTotal.WithLabelValues(CommandLoad.String()).Inc()
			p.loadHistory(ctx, s, cmd.Limit)
			return nil
		}
		FramesTotal.WithLabelValues(CommandChat.String()).Inc()
		p.chat(ctx, s, f)
		return nil
	}

	switch cmd.Kind {
	case CommandLogin, CommandRegister:
		FramesTotal.WithLabelValues(cmd.Kind.String()).Inc()
		if parseErr != nil {
			p.logger.Info("malformed auth command", "session", s.ID, "error", parseErr)
			p.sendError(s, []string{s.Username()}, fmt.Sprintf("invalid %s command", cmd.Kind))
			return nil
		}
		if cmd.Kind == CommandLogin {
			return p.login(ctx, s, cmd)
		}
		return p.register(ctx, s, cmd)
	default:
		FramesTotal.WithLabelValues("rejected").Inc()
		p.sendError(s, []string{s.RemoteAddr}, "you are not logged in")
		return ErrUnauthenticatedAccess
	}
}

func (p *Protocol) login(ctx context.Context, s *Session, cmd Command) error {
	if _, ok := p.registry.FindAuthenticatedByUsername(cmd.Username); ok {
		p.sendError(s, []string{cmd.Username}, fmt.Sprintf("user %s already logged", cmd.Username))
		return nil
	}

	s.setState(StateAuthenticating)
	err := p.accounts.Login(ctx, cmd.Username, cmd.Credential)
	switch {
	case errors.Is(err, account.ErrInvalidCredentials):
		s.setState(StateUnauthenticated)
		p.logger.Info("invalid login", "username", cmd.Username, "session", s.ID)
		p.sendError(s, []string{cmd.Username}, fmt.Sprintf("invalid login %s", cmd.Username))
		return nil
	case err != nil:
		s.setState(StateUnauthenticated)
		p.logger.Error("account login failed", "username", cmd.Username, "error", err)
		p.sendError(s, []string{cmd.Username}, "service unavailable")
		return nil
	}

	return p.admit(s, cmd.Username, fmt.Sprintf("%s was connected to chat", cmd.Username))
}

func (p *Protocol) register(ctx context.Context, s *Session, cmd Command) error {
	s.setState(StateAuthenticating)
	err := p.accounts.Register(ctx, cmd.Username, cmd.Credential)
	switch {
	case errors.Is(err, account.ErrUsernameTaken):
		s.setState(StateUnauthenticated)
		p.sendError(s, []string{cmd.Username}, fmt.Sprintf("user %s already exist", cmd.Username))
		return nil
	case errors.Is(err, account.ErrInvalidAccount):
		s.setState(StateUnauthenticated)
		p.sendError(s, []string{cmd.Username}, "invalid register command")
		return nil
	case err != nil:
		s.setState(StateUnauthenticated)
		p.logger.Error("account register failed", "username", cmd.Username, "error", err)
		p.sendError(s, []string{cmd.Username}, "service unavailable")
		return nil
	}

	p.logger.Info("new user registered", "username", cmd.Username)
	return p.admit(s, cmd.Username, fmt.Sprintf("New user %s was registered", cmd.Username))
}

// admit marks the session authenticated, announces it and sends the welcome
// sequence: server name, online list (delimited), welcome text.
func (p *Protocol) admit(s *Session, username, notice string) error {
	if err := p.registry.Authenticate(s, username); err != nil {
		s.setState(StateUnauthenticated)
		switch {
		case errors.Is(err, ErrAlreadyLoggedIn):
			p.sendError(s, []string{username}, fmt.Sprintf("user %s already logged", username))
			return nil
		case errors.Is(err, ErrCapacityExceeded):
			p.sendError(s, []string{username}, "server is busy")
			return ErrCapacityExceeded
		default:
			return err
		}
	}

	if msg, err := Encode(notice, p.serverName, []string{username}, p.now()); err == nil {
		if err := p.registry.Broadcast(s, msg); err != nil {
			p.logger.Warn("join notice partially delivered", "username", username, "error", err)
		}
	}

	p.send(s, fmt.Sprintf("/server_name %s", p.serverName), []string{username})
	if err := p.registry.PublishOnlineList(p.now(), true); err != nil {
		p.logger.Warn("online list partially delivered", "error", err)
	}
	p.send(s, fmt.Sprintf("welcome to %s", p.serverName), []string{username})
	return nil
}

func (p *Protocol) loadHistory(ctx context.Context, s *Session, limit int) {
	records, err := p.accounts.LoadHistory(ctx, s.Username(), limit)
	if err != nil {
		p.logger.Error("load history failed", "username", s.Username(), "error", err)
		p.sendError(s, []string{s.Username()}, "history unavailable")
		return
	}

	if len(records) == 0 {
		return
	}

	// the whole history is queued as one payload
	var batch []byte
	for _, rec := range records {
		msg, err := EncodeBatchItem(rec.Text, rec.Author, []string{p.serverName}, FormatTimestamp(rec.SentAt))
		if err != nil {
			p.logger.Warn("skip history record", "error", err)
			continue
		}
		batch = append(batch, msg...)
	}
	if len(batch) == 0 {
		return
	}
	if err := s.Send(batch); err != nil {
		p.logger.Warn("history not delivered", "session", s.ID, "records", len(records), "error", err)
	}
}

// chat relays the raw envelope to everyone else first and only then stores it,
// so live delivery never waits on the account store.
func (p *Protocol) chat(ctx context.Context, s *Session, f Frame) {
	if err := p.registry.Broadcast(s, f.Raw); err != nil {
		p.logger.Warn("message partially delivered", "author", s.Username(), "error", err)
	}

	author := s.Username()
	if f.Envelope.Author != author {
		p.logger.Warn("envelope author does not match session", "session_user", author, "envelope_author", f.Envelope.Author)
	}

	msg := account.Message{
		Author:     author,
		Recipients: lo.Without(f.Envelope.Recipients, author),
		Text:       f.Envelope.Text,
		SentAt:     p.sentAt(f.Envelope.Datetime),
	}
	if err := p.accounts.SaveMessage(ctx, msg); err != nil {
		p.logger.Error("save message failed", "author", author, "error", err)
		p.sendError(s, []string{author}, "message not saved")
	}
}

func (p *Protocol) sentAt(datetime string) time.Time {
	t, err := time.ParseInLocation(TimestampLayout, datetime, time.Local)
	if err != nil {
		return p.clock()
	}
	return t
}

// Terminate removes s from the registry and, if it was logged in, tells the
// remaining users and republishes the online list.
func (p *Protocol) Terminate(s *Session) {
	wasAuthenticated := s.Authenticated()
	s.setState(StateTerminated)
	if !p.registry.Remove(s) || !wasAuthenticated {
		return
	}

	p.logger.Info("user left", "username", s.Username(), "session", s.ID)
	if msg, err := Encode(fmt.Sprintf("%s disconnected", s.Username()), p.serverName, []string{AllUsers}, p.now()); err == nil {
		if err := p.registry.Broadcast(s, msg); err != nil {
			p.logger.Warn("departure notice partially delivered", "error", err)
		}
	}
	if err := p.registry.PublishOnlineList(p.now(), false); err != nil {
		p.logger.Warn("online list partially delivered", "error", err)
	}
}

func (p *Protocol) send(s *Session, text string, recipients []string) {
	msg, err := Encode(text, p.serverName, recipients, p.now())
	if err != nil {
		p.logger.Error("encode control message", "error", err)
		return
	}
	if err := s.Send(msg); err != nil {
		p.logger.Warn("send to session failed", "session", s.ID, "error", err)
	}
}

func (p *Protocol) sendError(s *Session, recipients []string, message string) {
	p.send(s, "/error "+message, recipients)
}
