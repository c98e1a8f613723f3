package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"zyphon/internal/pkg/logger"
	"zyphon/internal/platform/config"
	"zyphon/internal/platform/database"
	"zyphon/internal/platform/models"
	"zyphon/internal/platform/repositories"
)

// create-admin adds an administrator account, or promotes an existing one.
// The password is read from ZYPHON_ADMIN_PASSWORD so it stays out of shell
// history.
func main() {
	configPath := flag.String("config", os.Getenv("ZYPHON_CONFIG"), "Path to config file")
	email := flag.String("email", "", "Administrator email")
	name := flag.String("name", "", "Full name")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	addr := strings.ToLower(strings.TrimSpace(*email))
	if addr == "" {
		log.Fatal().Msg("--email is required")
	}

	ctx := context.Background()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	users := repositories.NewUserRepository(db)
	now := time.Now().Unix()

	promoted, err := users.SetRole(ctx, addr, models.RoleAdmin, now)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to update user")
	}
	if promoted {
		log.Info().Str("email", addr).Msg("existing user promoted to admin")
		return
	}

	password := os.Getenv("ZYPHON_ADMIN_PASSWORD")
	if len(password) < 12 {
		log.Fatal().Msg("ZYPHON_ADMIN_PASSWORD must be at least 12 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to hash password")
	}

	user := &models.User{
		ID:           "usr_" + uuid.New().String(),
		Email:        addr,
		PasswordHash: string(hash),
		FullName:     *name,
		Role:         models.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Create(ctx, user); err != nil {
		log.Fatal().Err(err).Msg("failed to create admin")
	}

	log.Info().Str("email", addr).Str("user_id", user.ID).Msg("admin created")
}
