package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/aussiebroadwan/b24gate/internal/gateway/app"
	"github.com/aussiebroadwan/b24gate/pkg/cryptox"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
	checkConfig := flags.Bool("check-config", false, "validate configuration from the environment and exit")
	migrateOnly := flags.Bool("migrate-only", false, "apply database migrations and exit")
	generateSecret := flags.Bool("generate-secret", false, "print a random secret for JWT_SECRET or CREDENTIALS_KEY and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	if *generateSecret {
		secret, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			log.Fatalf("failed to generate secret: %v", err)
		}
		fmt.Println(secret)
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("invalid configuration:\n%v", err)
	}

	if *checkConfig {
		fmt.Println("configuration ok")
		return
	}

	if *migrateOnly {
		if err := app.Migrate(cfg); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		return
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
