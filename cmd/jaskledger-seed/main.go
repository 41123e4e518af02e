package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jask/jaskledger/internal/config"
	"github.com/jask/jaskledger/internal/database"
	"github.com/jask/jaskledger/internal/ledger"
	"github.com/jask/jaskledger/internal/logger"
	"github.com/jask/jaskledger/internal/secrets"
	"github.com/jask/jaskledger/internal/testdata"
)

func main() {
	var (
		owner       = flag.String("owner", "demo", "owner id to seed")
		count       = flag.Int("n", 20, "number of transactions")
		seed        = flag.Int64("seed", 0, "random seed (0 = from clock)")
		writeConfig = flag.Bool("write-config", false, "write the effective config (without secrets) to the config file")
		token       = flag.Bool("token", false, "print a 24h API token for -owner, creating a local signing key if needed")
	)
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	if *writeConfig {
		path, err := config.Save(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to write config")
		}
		log.Info().Str("path", path).Msg("Config written")
	}

	db, err := database.OpenMigrated(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open database")
	}
	defer db.Close()

	sum, err := testdata.Seed(context.Background(), ledger.NewAccounts(db), ledger.NewService(db, log), *owner, testdata.Options{
		Transactions: *count,
		Seed:         *seed,
	})
	if err != nil {
		log.Error().Err(err).Msg("Seeding failed")
		os.Exit(1)
	}
	for _, a := range sum.Accounts {
		fmt.Printf("%s  %-12s %-13s %s\n", a.ID, a.Name, a.Kind, a.Currency)
	}
	log.Info().Str("owner_id", *owner).Int("transactions", sum.Transactions).Msg("Seeded demo ledger")

	if *token {
		signed, err := demoToken(cfg, *owner)
		if err != nil {
			log.Error().Err(err).Msg("Failed to issue token")
			os.Exit(1)
		}
		fmt.Printf("Authorization: Bearer %s\n", signed)
	}
}

// demoToken signs a short-lived token with the configured secret, or with
// one kept in the local secret store.
func demoToken(cfg config.Config, owner string) (string, error) {
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		store, err := secrets.DefaultStore()
		if err != nil {
			return "", err
		}
		if secret, err = store.Ensure(secrets.JWTSecretName); err != nil {
			return "", err
		}
	}
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   owner,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
	}).SignedString([]byte(secret))
}
