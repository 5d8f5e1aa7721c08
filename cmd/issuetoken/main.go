// Command issuetoken prints a bearer token for a member or class owner.
// Accounts live elsewhere; this signs with the API's JWT settings.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"classattend/internal/auth"
	"classattend/internal/config"
)

func main() {
	flags := pflag.NewFlagSet("issuetoken", pflag.ContinueOnError)
	subject := flags.StringP("subject", "s", "", "member or owner id (token subject)")
	role := flags.StringP("role", "r", auth.RoleMember, "role: owner or member")
	ttl := flags.Duration("ttl", 0, "token lifetime (default ACCESS_TTL)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(2)
	}
	if *subject == "" {
		fmt.Fprintln(os.Stderr, "issuetoken: --subject is required")
		flags.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "issuetoken: %v\n", err)
		os.Exit(1)
	}
	if *ttl <= 0 {
		*ttl = cfg.AccessTTL
	}

	token, exp, err := auth.Issue(*subject, *role, cfg.JWTIssuer, cfg.JWTSigningKey, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issuetoken: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format("2006-01-02 15:04:05 MST"))
}
