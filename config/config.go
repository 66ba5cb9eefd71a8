// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	ProviderYooKassa = "yookassa"
	ProviderStripe   = "stripe"

	MessengerVK       = "vk"
	MessengerTelegram = "telegram"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Server    Server
	DB        DB
	VK        VK
	Telegram  Telegram
	Messenger Messenger
	Payment   Payment
	YooKassa  YooKassa
	Stripe    Stripe
	Access    Access
	Log       Log

	ShutdownTimeout time.Duration
}

type Server struct {
	Port         string `validate:"required"`
	BaseURL      string `validate:"required,url"`
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DB struct {
	Driver       string `validate:"oneof=postgres sqlite"`
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
	// Path is the database file for the sqlite driver.
	Path        string
	AutoMigrate bool
}

type VK struct {
	GroupToken        string
	ConfirmationToken string
	Secret            string
	APIVersion        string
	APIURL            string
}

type Telegram struct {
	Token string
}

type Messenger struct {
	Provider string `validate:"oneof=vk telegram"`
	Timeout  time.Duration
}

type Payment struct {
	Provider    string `validate:"oneof=yookassa stripe"`
	Amount      string `validate:"required,numeric"`
	Currency    string `validate:"required"`
	Description string
	ReturnURL   string
	Timeout     time.Duration
}

// AmountDecimal parses the configured fixed price.
func (p Payment) AmountDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(p.Amount)
}

type YooKassa struct {
	ShopID    string
	SecretKey string
	// WebhookSecret signs inbound notifications. Falls back to SecretKey.
	WebhookSecret string
	APIURL        string
}

// SigningSecret returns the key used to verify webhook signatures.
func (y YooKassa) SigningSecret() string {
	if y.WebhookSecret != "" {
		return y.WebhookSecret
	}
	return y.SecretKey
}

type Stripe struct {
	SecretKey  string
	WebhookKey string
	PriceID    string
}

type Access struct {
	// ResourceURL is the protected link handed out on successful redemption.
	ResourceURL string
}

type Log struct {
	Level       string
	Development bool
}

// Load loads the configuration
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.paygate-bot")

	setDefaults(v)

	// DB.HOST -> DB_HOST
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		cfg := fromEnv(v)
		return cfg, Validate(cfg)
	}

	// Process any ${ENV_VAR} syntax in the config values. An unset variable
	// yields an empty value, never the placeholder itself.
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			v.Set(key, os.Getenv(envVar))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, Validate(&cfg)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ShutdownTimeout", 10*time.Second)
	v.SetDefault("Server.Port", "5000")
	v.SetDefault("Server.BaseURL", "https://example.com")
	v.SetDefault("Server.ReadTimeout", 10*time.Second)
	v.SetDefault("Server.WriteTimeout", 30*time.Second)
	v.SetDefault("DB.Driver", DriverPostgres)
	v.SetDefault("DB.Host", "localhost")
	v.SetDefault("DB.Port", "5432")
	v.SetDefault("DB.User", "postgres")
	v.SetDefault("DB.DBName", "vk_bot_db")
	v.SetDefault("DB.SSLMode", "disable")
	v.SetDefault("DB.MaxOpenConns", 20)
	v.SetDefault("DB.MaxIdleConns", 2)
	v.SetDefault("DB.ConnLifetime", 5*time.Minute)
	v.SetDefault("DB.Path", "./paygate.db")
	v.SetDefault("DB.AutoMigrate", true)
	v.SetDefault("VK.APIVersion", "5.131")
	v.SetDefault("VK.APIURL", "https://api.vk.com/method/")
	v.SetDefault("Messenger.Provider", MessengerVK)
	v.SetDefault("Messenger.Timeout", 10*time.Second)
	v.SetDefault("Payment.Provider", ProviderYooKassa)
	v.SetDefault("Payment.Amount", "499.00")
	v.SetDefault("Payment.Currency", "RUB")
	v.SetDefault("Payment.Timeout", 15*time.Second)
	v.SetDefault("YooKassa.APIURL", "https://api.yookassa.ru/v3")
	v.SetDefault("Log.Level", "info")
}

// fromEnv builds the config from plain environment variables when there is
// no config file. Names follow the .env used by the VK deployment.
func fromEnv(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.ShutdownTimeout = v.GetDuration("ShutdownTimeout")

	cfg.Server.Port = getEnvOr("FLASK_PORT", v.GetString("Server.Port"))
	cfg.Server.BaseURL = getEnvOr("BASE_URL", v.GetString("Server.BaseURL"))
	cfg.Server.ReadTimeout = v.GetDuration("Server.ReadTimeout")
	cfg.Server.WriteTimeout = v.GetDuration("Server.WriteTimeout")

	cfg.DB.Driver = getEnvOr("DB_DRIVER", v.GetString("DB.Driver"))
	cfg.DB.Host = getEnvOr("PG_HOST", v.GetString("DB.Host"))
	cfg.DB.Port = getEnvOr("PG_PORT", v.GetString("DB.Port"))
	cfg.DB.User = getEnvOr("PG_USER", v.GetString("DB.User"))
	cfg.DB.Password = os.Getenv("PG_PASSWORD")
	cfg.DB.DBName = getEnvOr("PG_DBNAME", v.GetString("DB.DBName"))
	cfg.DB.SSLMode = getEnvOr("PG_SSLMODE", v.GetString("DB.SSLMode"))
	cfg.DB.MaxOpenConns = v.GetInt("DB.MaxOpenConns")
	cfg.DB.MaxIdleConns = v.GetInt("DB.MaxIdleConns")
	cfg.DB.ConnLifetime = v.GetDuration("DB.ConnLifetime")
	cfg.DB.Path = getEnvOr("DB_PATH", v.GetString("DB.Path"))
	cfg.DB.AutoMigrate = v.GetBool("DB.AutoMigrate")

	cfg.VK.GroupToken = os.Getenv("VK_GROUP_TOKEN")
	cfg.VK.ConfirmationToken = os.Getenv("VK_CONFIRMATION_TOKEN")
	cfg.VK.Secret = os.Getenv("VK_SECRET")
	cfg.VK.APIVersion = v.GetString("VK.APIVersion")
	cfg.VK.APIURL = v.GetString("VK.APIURL")

	cfg.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")

	cfg.Messenger.Provider = getEnvOr("MESSENGER_PROVIDER", v.GetString("Messenger.Provider"))
	cfg.Messenger.Timeout = v.GetDuration("Messenger.Timeout")

	cfg.Payment.Provider = getEnvOr("PAYMENT_PROVIDER", v.GetString("Payment.Provider"))
	cfg.Payment.Amount = getEnvOr("PAYMENT_AMOUNT", v.GetString("Payment.Amount"))
	cfg.Payment.Currency = getEnvOr("PAYMENT_CURRENCY", v.GetString("Payment.Currency"))
	cfg.Payment.Description = os.Getenv("PAYMENT_DESCRIPTION")
	cfg.Payment.ReturnURL = os.Getenv("PAYMENT_RETURN_URL")
	cfg.Payment.Timeout = v.GetDuration("Payment.Timeout")

	cfg.YooKassa.ShopID = os.Getenv("YOOKASSA_SHOP_ID")
	cfg.YooKassa.SecretKey = os.Getenv("YOOKASSA_SECRET_KEY")
	cfg.YooKassa.WebhookSecret = os.Getenv("YOOKASSA_WEBHOOK_SECRET")
	cfg.YooKassa.APIURL = v.GetString("YooKassa.APIURL")

	cfg.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.Stripe.WebhookKey = os.Getenv("STRIPE_WEBHOOK_KEY")
	cfg.Stripe.PriceID = os.Getenv("STRIPE_PRICE_ID")

	cfg.Access.ResourceURL = os.Getenv("PRIVATE_GROUP_URL")

	cfg.Log.Level = getEnvOr("LOG_LEVEL", v.GetString("Log.Level"))
	cfg.Log.Development = os.Getenv("LOG_DEVELOPMENT") == "true"

	return cfg
}

var validate = validator.New()

// Validate checks field rules and the per-provider required credentials.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Payment.AmountDecimal(); err != nil {
		return fmt.Errorf("invalid payment amount %q: %w", cfg.Payment.Amount, err)
	}

	var missing []string
	switch cfg.Messenger.Provider {
	case MessengerVK:
		if cfg.VK.GroupToken == "" {
			missing = append(missing, "VK.GroupToken")
		}
		if cfg.VK.ConfirmationToken == "" {
			missing = append(missing, "VK.ConfirmationToken")
		}
	case MessengerTelegram:
		if cfg.Telegram.Token == "" {
			missing = append(missing, "Telegram.Token")
		}
	}
	switch cfg.Payment.Provider {
	case ProviderYooKassa:
		if cfg.YooKassa.ShopID == "" {
			missing = append(missing, "YooKassa.ShopID")
		}
		if cfg.YooKassa.SecretKey == "" {
			missing = append(missing, "YooKassa.SecretKey")
		}
	case ProviderStripe:
		if cfg.Stripe.SecretKey == "" || cfg.Stripe.WebhookKey == "" || cfg.Stripe.PriceID == "" {
			missing = append(missing, "Stripe.SecretKey/WebhookKey/PriceID")
		}
	}
	if cfg.DB.Driver == DriverSQLite && cfg.DB.Path == "" {
		missing = append(missing, "DB.Path")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Helper function to get environment variable with default value
func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
