// Package bot turns inbound chat messages into account and payment actions.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paygate-bot/pkg/logger"
)

// Event is one inbound chat message, independent of the transport it came
// from.
type Event struct {
	UserID    int64
	Name      string
	Text      string
	Transport string
}

// Normalized returns the trimmed, lower-cased text handlers match on.
func (e Event) Normalized() string {
	return strings.ToLower(strings.TrimSpace(e.Text))
}

type Handler interface {
	Name() string
	// Handle returns nil when the event is not for this handler.
	Handle(ctx context.Context, ev Event) error
}

type handlerFunc struct {
	name string
	fn   func(ctx context.Context, ev Event) error
}

func (h handlerFunc) Name() string { return h.name }

func (h handlerFunc) Handle(ctx context.Context, ev Event) error { return h.fn(ctx, ev) }

// HandlerFunc wraps fn as a named Handler.
func HandlerFunc(name string, fn func(ctx context.Context, ev Event) error) Handler {
	return handlerFunc{name: name, fn: fn}
}

// HumanError carries a message that is safe to show to the user next to the
// underlying error that gets logged.
type HumanError struct {
	human string
	err   error
}

func NewHumanError(human string, err error) *HumanError {
	return &HumanError{human: human, err: err}
}

func (e *HumanError) Error() string { return e.err.Error() }

func (e *HumanError) Unwrap() error { return e.err }

func (e *HumanError) Human() string { return e.human }

// Router fans every event out to its handlers in registration order. A
// failing or panicking handler does not stop the ones after it.
type Router struct {
	handlers  []Handler
	messenger Messenger
	logger    *logger.Logger
}

func NewRouter(l *logger.Logger, messenger Messenger, handlers ...Handler) *Router {
	return &Router{
		handlers:  handlers,
		messenger: messenger,
		logger:    l,
	}
}

func (r *Router) Dispatch(ctx context.Context, ev Event) {
	if ev.UserID == 0 {
		r.logger.Warnw("Dropping message without sender", "transport", ev.Transport)
		return
	}
	for _, h := range r.handlers {
		if err := r.run(ctx, h, ev); err != nil {
			r.handleError(ctx, h, ev, err)
		}
	}
}

func (r *Router) run(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = NewHumanError(msgInternalError, fmt.Errorf("handler panicked: %v", rec))
		}
	}()
	return h.Handle(ctx, ev)
}

func (r *Router) handleError(ctx context.Context, h Handler, ev Event, err error) {
	r.logger.Errorw("Handler failed", "handler", h.Name(), "user_id", ev.UserID, "error", err)

	var hrerr *HumanError
	if !errors.As(err, &hrerr) {
		return
	}
	if sendErr := r.messenger.SendMessage(ctx, ev.UserID, hrerr.Human()); sendErr != nil {
		r.logger.Errorw("Cannot send message with human readable error", "user_id", ev.UserID, "error", sendErr)
	}
}
