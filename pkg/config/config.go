package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"linkit/pkg/db"
	"linkit/pkg/mail"
)

type Config struct {
	HTTPAddr       string
	AllowedOrigins []string
	LogLevel       string
	// PublicURL is the externally reachable base URL used for provider webhooks.
	PublicURL string

	Database db.Config
	Monitor  MonitorConfig
	SMTP     mail.SMTPConfig

	WeatherURL string
	Discord    DiscordConfig
	Google     OAuthClient
	Microsoft  OAuthClient
	Spotify    OAuthClient
	Twitch     TwitchConfig
}

type MonitorConfig struct {
	ScanInterval time.Duration
	PollInterval time.Duration
	Concurrency  int
}

type OAuthClient struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type DiscordConfig struct {
	OAuthClient
	BotToken string
}

type TwitchConfig struct {
	OAuthClient
	// WebhookSecret signs EventSub deliveries.
	WebhookSecret string
}

// Load builds a Config from the flags, config file and environment bound to v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTPAddr:       v.GetString("http-addr"),
		AllowedOrigins: splitList(v.GetString("allowed-origins")),
		LogLevel:       v.GetString("log-level"),
		PublicURL:      strings.TrimRight(v.GetString("public-url"), "/"),
		Database: db.Config{
			URI:             v.GetString("database-url"),
			MaxOpenConns:    v.GetInt("db-max-conns"),
			ConnMaxLifetime: v.GetDuration("db-conn-lifetime"),
			ConnectTimeout:  v.GetDuration("db-connect-timeout"),
		},
		Monitor: MonitorConfig{
			ScanInterval: v.GetDuration("scan-interval"),
			PollInterval: v.GetDuration("poll-interval"),
			Concurrency:  v.GetInt("cascade-concurrency"),
		},
		SMTP: mail.SMTPConfig{
			Host:     v.GetString("smtp-host"),
			Port:     v.GetInt("smtp-port"),
			UserName: v.GetString("smtp-user"),
			Password: v.GetString("smtp-password"),
			From:     v.GetString("smtp-from"),
		},
		WeatherURL: v.GetString("weather-url"),
		Discord: DiscordConfig{
			OAuthClient: oauthClient(v, "discord"),
			BotToken:    v.GetString("discord-bot-token"),
		},
		Google:    oauthClient(v, "google"),
		Microsoft: oauthClient(v, "microsoft"),
		Spotify:   oauthClient(v, "spotify"),
		Twitch: TwitchConfig{
			OAuthClient:   oauthClient(v, "twitch"),
			WebhookSecret: v.GetString("twitch-webhook-secret"),
		},
	}

	if cfg.Database.URI == "" {
		return cfg, errors.New("database-url is not set")
	}
	return cfg, nil
}

func oauthClient(v *viper.Viper, provider string) OAuthClient {
	return OAuthClient{
		ClientID:     v.GetString(provider + "-client-id"),
		ClientSecret: v.GetString(provider + "-client-secret"),
		RedirectURL:  v.GetString(provider + "-redirect-url"),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
