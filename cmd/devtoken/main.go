// Command devtoken prints a session token for local testing. Tokens are
// normally issued by the identity provider; this tool signs one with the
// configured JWT secret and refuses to run in production.
//
//	go run ./cmd/devtoken -address 0xabc… -role user
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/service"
)

func main() {
	address := flag.String("address", "", "wallet address to put in the token subject")
	role := flag.String("role", string(domain.RoleUser), "user | admin | ops | readonly")
	flag.Parse()

	cfg := config.MustLoad()
	if cfg.IsProd() {
		fmt.Fprintln(os.Stderr, "devtoken: refusing to issue tokens in production")
		os.Exit(2)
	}

	if !domain.Role(*role).IsValid() {
		fmt.Fprintf(os.Stderr, "devtoken: unknown role %q\n", *role)
		os.Exit(2)
	}
	token, err := service.NewIdentityVerifier(cfg.JWT).IssueToken(*address, domain.Role(*role), cfg.JWT.DevTokenTTL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
