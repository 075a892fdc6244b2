package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/kirinyoku/evreg/docs"
	"github.com/kirinyoku/evreg/internal/app"
	"github.com/kirinyoku/evreg/internal/config"
	httpgin "github.com/kirinyoku/evreg/internal/transport/http/gin"
)

// @title Evreg API
// @version 1.0
// @description Event registration, capacity and check-in service.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			logger.Error("failed to issue token", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx := context.Background()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("application finished with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// issueToken prints a bearer token for operators, e.g.
//
//	evreg token -sub 3f1c... -role staff -ttl 12h
func issueToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	sub := fs.String("sub", "", "user id")
	role := fs.String("role", httpgin.RoleUser, "user, staff or admin")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sub == "" {
		return fmt.Errorf("-sub is required")
	}

	switch strings.ToLower(*role) {
	case httpgin.RoleUser, httpgin.RoleStaff, httpgin.RoleAdmin:
	default:
		return fmt.Errorf("unknown role %q", *role)
	}

	token, err := httpgin.NewAuthenticator(cfg.Auth.JWTSecret).Issue(*sub, strings.ToLower(*role), *ttl)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
