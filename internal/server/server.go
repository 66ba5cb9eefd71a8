// internal/server/server.go
package server

import (
	"context"
	"net/http"
	"time"

	"paygate-bot/config"
	"paygate-bot/internal/bot"
	"paygate-bot/internal/metrics"
	"paygate-bot/internal/models"
	"paygate-bot/internal/payment"
	"paygate-bot/internal/reconciler"
	"paygate-bot/pkg/logger"
)

// maxBodyBytes caps inbound webhook bodies.
const maxBodyBytes = 1 << 20

type Verifier interface {
	Verify(ctx context.Context, token string) (*models.Verdict, error)
}

type Reconciler interface {
	Handle(ctx context.Context, ev reconciler.Event) (reconciler.Outcome, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ev bot.Event)
}

type StatsSource interface {
	GetStats(ctx context.Context) (*models.Stats, error)
}

type StripeParser interface {
	ParseWebhook(payload []byte, sig string) (*payment.StripeNotification, error)
}

type TelegramParser interface {
	ParseUpdate(r *http.Request) (bot.Event, bool, error)
}

// Deps are the collaborators behind the HTTP routes. Stripe and Telegram
// are optional; their routes are only mounted when set.
type Deps struct {
	Verifier   Verifier
	Reconciler Reconciler
	Router     Dispatcher
	Stats      StatsSource
	Stripe     StripeParser
	Telegram   TelegramParser
	Metrics    *metrics.Metrics
}

// Settings are the secrets and links the handlers need from config.
type Settings struct {
	YooKassaSecret string
	VKConfirmation string
	VKSecret       string
	ResourceURL    string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// SettingsFromConfig picks the HTTP-facing values out of cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		YooKassaSecret: cfg.YooKassa.SigningSecret(),
		VKConfirmation: cfg.VK.ConfirmationToken,
		VKSecret:       cfg.VK.Secret,
		ResourceURL:    cfg.Access.ResourceURL,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
	}
}

type Server struct {
	server *http.Server
	logger *logger.Logger
}

func NewServer(port string, deps Deps, settings Settings, l *logger.Logger) *Server {
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      NewHandler(deps, settings, l),
		ReadTimeout:  orDefault(settings.ReadTimeout, 10*time.Second),
		WriteTimeout: orDefault(settings.WriteTimeout, 30*time.Second),
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		server: httpServer,
		logger: l,
	}
}

// NewHandler builds the route table.
func NewHandler(deps Deps, settings Settings, l *logger.Logger) http.Handler {
	h := &handlers{deps: deps, settings: settings, logger: l}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /yookassa_webhook", h.yookassaWebhook)
	mux.HandleFunc("POST /webhook/yookassa", h.yookassaWebhook)
	if deps.Stripe != nil {
		mux.HandleFunc("POST /webhook/stripe", h.stripeWebhook)
	}
	mux.HandleFunc("POST /vk_callback", h.vkCallback)
	if deps.Telegram != nil {
		mux.HandleFunc("POST /telegram_callback", h.telegramCallback)
	}
	mux.HandleFunc("GET /verify", h.verify)
	mux.HandleFunc("GET /access", h.verify)
	mux.HandleFunc("GET /health", h.health)
	mux.Handle("GET /metrics", deps.Metrics.Handler())

	return mux
}

func (s *Server) Start() error {
	s.logger.Infow("Starting HTTP server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
