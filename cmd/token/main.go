// Command token mints an access token for local testing:
//
//	go run ./cmd/token -user alice -role CUSTOMER
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/event-seat-reservation/internal/middleware"
	"github.com/iliyamo/event-seat-reservation/internal/utils"
)

func main() {
	_ = godotenv.Load()
	user := flag.String("user", "", "user id (token subject)")
	role := flag.String("role", middleware.RoleCustomer, "OWNER or CUSTOMER")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret (default $JWT_SECRET)")
	flag.Parse()

	if *user == "" || *secret == "" {
		flag.Usage()
		os.Exit(2)
	}
	tok, err := utils.NewAccessToken(*secret, *user, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
