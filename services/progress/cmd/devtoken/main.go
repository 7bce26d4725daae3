// Command devtoken mints a bearer token for local testing of the progress API.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/example/lecture-platform/internal/platform/auth"
	"github.com/example/lecture-platform/internal/platform/config"
)

func main() {
	fs := pflag.NewFlagSet("devtoken", pflag.ExitOnError)
	fs.String("user", "", "user id to put in the subject claim")
	fs.Duration("ttl", 24*time.Hour, "token lifetime")
	fs.String("jwt-secret", "", "HS256 secret (defaults to JWT_SECRET)")
	_ = fs.Parse(os.Args[1:])

	v := config.NewEnv()
	_ = v.BindPFlag("user", fs.Lookup("user"))
	_ = v.BindPFlag("ttl", fs.Lookup("ttl"))
	if secret, _ := fs.GetString("jwt-secret"); secret != "" {
		v.Set("jwt_secret", secret)
	}

	user := strings.TrimSpace(v.GetString("user"))
	secret := strings.TrimSpace(v.GetString("jwt_secret"))
	if user == "" || secret == "" {
		fmt.Fprintln(os.Stderr, "usage: devtoken --user <id> [--ttl 24h] (JWT_SECRET or --jwt-secret required)")
		os.Exit(2)
	}

	tok, exp, err := auth.Issuer{Secret: []byte(secret), TTL: v.GetDuration("ttl")}.Issue(user, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, "issue:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
	fmt.Println(tok)
}
