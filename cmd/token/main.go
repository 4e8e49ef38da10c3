// Command token mints a bearer token for a user or administrator, signed with
// the service's configured JWT secret. Intended for operators and local testing.
package main

import (
	"flag"
	"fmt"
	"os"

	"timebank-escrow/config"
	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/service"

	"github.com/google/uuid"
)

func main() {
	userFlag := flag.String("user", "", "user id (uuid); generated when empty")
	adminFlag := flag.Bool("admin", false, "mint an administrator token")
	configFlag := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fail("load config: %v", err)
	}
	if cfg.JWT.Secret == "" {
		fail("jwt.secret is required (TBE_JWT_SECRET)")
	}

	userID := uuid.New()
	if *userFlag != "" {
		if userID, err = uuid.Parse(*userFlag); err != nil {
			fail("invalid -user: %v", err)
		}
	}

	actor := domain.UserActor(userID)
	if *adminFlag {
		actor = domain.AdminActor(userID)
	}

	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	token, expiry, err := tokenSvc.Generate(actor)
	if err != nil {
		fail("generate token: %v", err)
	}

	fmt.Printf("user_id: %s\nkind:    %s\nexpires: %s\ntoken:   %s\n",
		userID, actor.Kind, expiry.Format("2006-01-02T15:04:05Z07:00"), token)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
