package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nerrad567/gray-logic-dobiss/internal/auth"
)

// runToken mints a bearer token for the HTTP API. The secret defaults to
// DOBISS_JWT_SECRET so it stays out of shell history.
func runToken(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)

	secret := fs.String("secret", os.Getenv("DOBISS_JWT_SECRET"), "HS256 signing secret (default $DOBISS_JWT_SECRET)")
	subject := fs.String("subject", "", "Token subject, e.g. a user or integration name")
	role := fs.String("role", string(auth.RoleOperator), "Role: viewer, operator or admin")
	ttl := fs.Int("ttl", 60, "Lifetime in minutes")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return fmt.Errorf("%w: -secret or DOBISS_JWT_SECRET is required", errUsage)
	}

	token, err := auth.GenerateAccessToken(*subject, auth.Role(*role), *secret, *ttl)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	fmt.Fprintln(stdout, token)
	return nil
}
