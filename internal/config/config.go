package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		Env  string `yaml:"env"`
	} `yaml:"server"`

	Database struct {
		DSN string `yaml:"url"`
	} `yaml:"database"`

	JWT struct {
		Secret string `yaml:"secret"`
		TTL    int    `yaml:"ttl"`
	} `yaml:"jwt"`

	Stripe struct {
		APIKey        string `yaml:"api_key"`
		WebhookSecret string `yaml:"webhook_secret"`
		Currency      string `yaml:"currency"`
		ProductID     string `yaml:"product_id"`
		SuccessURL    string `yaml:"success_url"`
		CancelURL     string `yaml:"cancel_url"`
		PortalReturn  string `yaml:"portal_return_url"`
		TimeoutSec    int    `yaml:"timeout_seconds"`
	} `yaml:"stripe"`

	Billing struct {
		DefaultSMSBudget   float64 `yaml:"default_sms_budget"`
		DefaultEmailBudget float64 `yaml:"default_email_budget"`
	} `yaml:"billing"`
}

// ProviderTimeout is the bound on any single outbound provider call.
func (c *Config) ProviderTimeout() time.Duration {
	if c.Stripe.TimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Stripe.TimeoutSec) * time.Second
}

var AppConfig *Config

// LoadConfig reads config.yaml, or environment variables when DATABASE_URL is
// set (test mode).
func LoadConfig() {
	var cfg Config

	dbURL := os.Getenv("DATABASE_URL")

	if dbURL == "" {
		configPath := os.Getenv("CONFIG_PATH")
		if configPath == "" {
			configPath = "config/config.yaml"
		}

		f, err := os.Open(configPath)
		if err != nil {
			log.Fatalf("Failed to open config file at %s: %v", configPath, err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			log.Fatalf("Failed to parse config file at %s: %v", configPath, err)
		}

		AppConfig = &cfg
		return
	}

	cfg.Database.DSN = dbURL
	cfg.Server.Env = os.Getenv("SERVER_ENV")
	cfg.Server.Port, _ = strconv.Atoi(os.Getenv("SERVER_PORT"))
	cfg.JWT.Secret = os.Getenv("JWT_SECRET")
	cfg.JWT.TTL = 60

	cfg.Stripe.APIKey = os.Getenv("STRIPE_API_KEY")
	cfg.Stripe.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.Stripe.Currency = "usd"
	cfg.Stripe.ProductID = os.Getenv("STRIPE_PRODUCT_ID")
	cfg.Stripe.SuccessURL = "http://localhost/billing/success"
	cfg.Stripe.CancelURL = "http://localhost/billing/cancel"
	cfg.Stripe.PortalReturn = "http://localhost/billing"

	cfg.Billing.DefaultSMSBudget = 50
	cfg.Billing.DefaultEmailBudget = 20

	AppConfig = &cfg
}
