package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"clinic-auth-gateway/oidc"
)

func init() {
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

func main() {
	// .env is optional, real deployments set the environment directly
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded environment from .env")
	}

	log.Info("initializing clinic-auth-gateway")

	cfg, err := LoadAndProcessConfig()
	if err != nil {
		log.Fatal(err)
	}

	log.Fatal(StartServer(cfg))
}

func StartServer(cfg *Config) error {
	o, err := oidc.New(context.Background(), oidcConfig(cfg))
	if err != nil {
		return err
	}

	ws, err := NewWebserver(cfg, o)
	if err != nil {
		return err
	}
	defer func() {
		err := ws.Close()
		if err != nil {
			log.Fatal(err)
		}
	}()
	return ws.Start()
}

func oidcConfig(cfg *Config) oidc.Config {
	providers := make([]oidc.ProviderSpec, 0, len(cfg.Content.OIDC.Providers))
	for _, p := range cfg.Content.OIDC.Providers {
		providers = append(providers, oidc.ProviderSpec{
			ID:           p.Id,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
		})
	}
	return oidc.Config{
		Issuer:          cfg.Content.OIDC.Issuer,
		BaseURL:         cfg.Content.OIDC.BaseUrl,
		BackendClientID: cfg.Content.OIDC.BackendClientID,
		TokenEndpoint:   cfg.Content.OIDC.TokenEndpoint,
		Providers:       providers,
	}
}
