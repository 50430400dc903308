package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "offline_notifications_total",
	Help: "Push notifications by event (shown, ignored, clicked, opened)",
}, []string{"event"})

// Displayer shows and closes notifications.
type Displayer interface {
	Show(ctx context.Context, n Notification) (Notification, error)
	Close(ctx context.Context, id string) error
}

// WindowOpener opens a URL for the user.
type WindowOpener interface {
	OpenWindow(ctx context.Context, url string) error
}

// WindowOpenerFunc adapts a function to WindowOpener.
type WindowOpenerFunc func(ctx context.Context, url string) error

// OpenWindow calls f.
func (f WindowOpenerFunc) OpenWindow(ctx context.Context, url string) error {
	return f(ctx, url)
}

// ClickEvent is a click on a notification or one of its actions.
type ClickEvent struct {
	// Action is empty for a click on the notification body.
	Action       string
	Notification Notification
}

// Handler reacts to push and notificationclick events.
type Handler struct {
	displayer Displayer
	opener    WindowOpener
	logger    zerolog.Logger
}

// NewHandler creates a Handler. opener may be nil when clicks never open windows.
func NewHandler(displayer Displayer, opener WindowOpener) *Handler {
	return &Handler{
		displayer: displayer,
		opener:    opener,
		logger:    log.With().Str("component", "notify").Logger(),
	}
}

// Push shows the notification for a push message. A push without data
// is ignored.
func (h *Handler) Push(ctx context.Context, data []byte) (Notification, error) {
	p, err := ParsePayload(data)
	if errors.Is(err, ErrEmptyPayload) {
		notificationsTotal.WithLabelValues("ignored").Inc()
		h.logger.Debug().Msg("Ignoring push without data")
		return Notification{}, nil
	}
	if err != nil {
		return Notification{}, err
	}

	n, err := h.displayer.Show(ctx, Build(p))
	if err != nil {
		return Notification{}, fmt.Errorf("show notification: %w", err)
	}
	notificationsTotal.WithLabelValues("shown").Inc()
	h.logger.Info().Str("id", n.ID).Str("title", n.Title).Msg("Notification shown")
	return n, nil
}

// Click closes the notification and, for the view action with a URL,
// opens it.
func (h *Handler) Click(ctx context.Context, ev ClickEvent) error {
	notificationsTotal.WithLabelValues("clicked").Inc()
	closeErr := h.displayer.Close(ctx, ev.Notification.ID)

	if ev.Action != ActionView || ev.Notification.Data == "" || h.opener == nil {
		return closeErr
	}
	if err := h.opener.OpenWindow(ctx, ev.Notification.Data); err != nil {
		return errors.Join(closeErr, fmt.Errorf("open window: %w", err))
	}
	notificationsTotal.WithLabelValues("opened").Inc()
	return closeErr
}
