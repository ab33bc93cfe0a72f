package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
)

// AllUsers is the nominal recipient of presence notices.
const AllUsers = "All users"

// Registry owns the set of live sessions. A single goroutine (Run) holds the
// session list; every other goroutine goes through the methods below, which
// turn into Events and wait for the Reply.
type Registry struct {
	events           chan Event
	stopCh           chan struct{}
	doneCh           chan struct{}
	logger           *slog.Logger
	serverName       string
	maxAuthenticated int
}

func NewRegistry(buffer int, serverName string, maxAuthenticated int, logger *slog.Logger) *Registry {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		events:           make(chan Event, buffer),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
		logger:           logger,
		serverName:       serverName,
		maxAuthenticated: maxAuthenticated,
	}
}

// Stop signals the Run loop to exit.
func (r *Registry) Stop() {
	close(r.stopCh)
}

// Wait blocks until the Run loop has completely finished.
func (r *Registry) Wait() {
	<-r.doneCh
}

// roster is the session list. Only the Run goroutine touches it.
type roster struct {
	sessions []*Session
}

func (ro *roster) authenticated() []*Session {
	return lo.Filter(ro.sessions, func(s *Session, _ int) bool {
		return s.Authenticated()
	})
}

func (ro *roster) find(username string) (*Session, bool) {
	return lo.Find(ro.authenticated(), func(s *Session) bool {
		return s.Username() == username
	})
}

func (r *Registry) Run() {
	defer close(r.doneCh)
	ro := &roster{}

	for {
		select {
		case ev := <-r.events:
			start := time.Now()
			rep := r.dispatch(ro, ev)
			if ev.ReplyChan != nil {
				ev.ReplyChan <- rep
			}

			eventType := ev.Type.String()
			MessagesTotal.WithLabelValues(eventType).Inc()
			EventProcessingDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) dispatch(ro *roster, ev Event) Reply {
	switch ev.Type {
	case EventAdd:
		return r.handleAdd(ro, ev)
	case EventRemove:
		return r.handleRemove(ro, ev)
	case EventAuthenticate:
		return r.handleAuthenticate(ro, ev)
	case EventCount:
		return Reply{Count: len(ro.authenticated())}
	case EventOnline:
		return Reply{Names: onlineNames(ro)}
	case EventLookup:
		s, _ := ro.find(ev.Username)
		return Reply{Session: s}
	case EventBroadcast:
		return Reply{Err: r.handleBroadcast(ro, ev.Session, ev.Payload)}
	case EventPublishOnline:
		return Reply{Err: r.handlePublishOnline(ro, ev)}
	case EventCloseAll:
		r.handleCloseAll(ro)
		return Reply{}
	default:
		return Reply{Err: fmt.Errorf("unknown event type %d", ev.Type)}
	}
}

func (r *Registry) handleAdd(ro *roster, ev Event) Reply {
	if ev.Session == nil || lo.Contains(ro.sessions, ev.Session) {
		return Reply{}
	}
	ro.sessions = append(ro.sessions, ev.Session)
	ConnectedSessions.Set(float64(len(ro.sessions)))
	return Reply{}
}

func (r *Registry) handleRemove(ro *roster, ev Event) Reply {
	idx := lo.IndexOf(ro.sessions, ev.Session)
	if idx < 0 {
		return Reply{}
	}
	ro.sessions = slices.Delete(ro.sessions, idx, idx+1)
	ConnectedSessions.Set(float64(len(ro.sessions)))
	AuthenticatedSessions.Set(float64(len(ro.authenticated())))
	return Reply{Removed: true}
}

// handleAuthenticate checks duplicates and capacity and marks the session in
// one step, so two racing logins cannot both pass.
func (r *Registry) handleAuthenticate(ro *roster, ev Event) Reply {
	s := ev.Session
	if s == nil || !lo.Contains(ro.sessions, s) {
		return Reply{Err: ErrSessionClosed}
	}
	if s.Authenticated() {
		return Reply{}
	}
	if _, ok := ro.find(ev.Username); ok {
		return Reply{Err: ErrAlreadyLoggedIn}
	}
	if r.maxAuthenticated > 0 && len(ro.authenticated()) >= r.maxAuthenticated {
		return Reply{Err: ErrCapacityExceeded}
	}

	s.setUsername(ev.Username)
	s.setState(StateAuthenticated)
	AuthenticatedSessions.Set(float64(len(ro.authenticated())))

	r.logger.Info("user authenticated", "username", ev.Username, "session", s.ID)
	return Reply{}
}

// handleBroadcast delivers payload to every authenticated session but exclude.
// A failing recipient does not stop delivery to the others.
func (r *Registry) handleBroadcast(ro *roster, exclude *Session, payload []byte) error {
	var errs []error
	for _, s := range ro.authenticated() {
		if s == exclude {
			continue
		}
		if err := s.Send(payload); err != nil {
			DeliveryFailures.Inc()
			errs = append(errs, fmt.Errorf("deliver to %s: %w", s.Username(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) handlePublishOnline(ro *roster, ev Event) error {
	text := "/now_online " + strings.Join(onlineNames(ro), " ")
	encode := Encode
	if ev.Delimit {
		encode = EncodeBatchItem
	}
	msg, err := encode(text, r.serverName, []string{AllUsers}, ev.Datetime)
	if err != nil {
		return err
	}
	return r.handleBroadcast(ro, nil, msg)
}

func (r *Registry) handleCloseAll(ro *roster) {
	for _, s := range ro.sessions {
		if s.Conn != nil {
			_ = s.Conn.Close()
		}
	}
}

func onlineNames(ro *roster) []string {
	return lo.Map(ro.authenticated(), func(s *Session, _ int) string {
		return s.Username()
	})
}

func (r *Registry) request(ev Event) Reply {
	ev.ReplyChan = make(chan Reply, 1)
	select {
	case r.events <- ev:
	case <-r.doneCh:
		return Reply{Err: ErrRegistryStopped}
	}
	select {
	case rep := <-ev.ReplyChan:
		return rep
	case <-r.doneCh:
		return Reply{Err: ErrRegistryStopped}
	}
}

func (r *Registry) Add(s *Session) error {
	return r.request(Event{Type: EventAdd, Session: s}).Err
}

// Remove drops s from the registry and reports whether it was present.
// Removing an absent session is a no-op.
func (r *Registry) Remove(s *Session) bool {
	return r.request(Event{Type: EventRemove, Session: s}).Removed
}

func (r *Registry) Authenticate(s *Session, username string) error {
	return r.request(Event{Type: EventAuthenticate, Session: s, Username: username}).Err
}

func (r *Registry) CountAuthenticated() int {
	return r.request(Event{Type: EventCount}).Count
}

// OnlineUsernames lists authenticated users in the order their sessions joined.
func (r *Registry) OnlineUsernames() []string {
	return r.request(Event{Type: EventOnline}).Names
}

func (r *Registry) FindAuthenticatedByUsername(username string) (*Session, bool) {
	s := r.request(Event{Type: EventLookup, Username: username}).Session
	return s, s != nil
}

func (r *Registry) Broadcast(exclude *Session, payload []byte) error {
	return r.request(Event{Type: EventBroadcast, Session: exclude, Payload: payload}).Err
}

// PublishOnlineList sends the current online list to every authenticated
// session. With delimit set the envelope is terminated by BatchDelimiter.
func (r *Registry) PublishOnlineList(datetime string, delimit bool) error {
	return r.request(Event{Type: EventPublishOnline, Datetime: datetime, Delimit: delimit}).Err
}

// CloseAll closes the connection of every live session.
func (r *Registry) CloseAll() {
	r.request(Event{Type: EventCloseAll})
}
