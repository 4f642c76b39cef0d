// Command token mints bearer tokens for the portal API. Sessions are issued
// elsewhere; this covers operators and local testing.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/vendorportal/core/internal/auth"
	"github.com/vendorportal/core/internal/config"
)

func main() {
	var (
		subject  = flag.String("sub", "", "token subject, recorded as the audit actor")
		vendorID = flag.String("vendor", "", "vendor id (required)")
		tier     = flag.String("tier", "STARTER", "access tier")
		role     = flag.String("role", "", `role; "admin" unlocks /api/v1/admin`)
		ttl      = flag.Duration("ttl", time.Hour, "token lifetime")
	)
	flag.Parse()

	if *vendorID == "" {
		fmt.Fprintln(os.Stderr, "usage: token -vendor <id> [-sub <subject>] [-tier <tier>] [-role admin] [-ttl 1h]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if cfg.JWT.Secret == "" {
		slog.Error("JWT_SECRET is not set")
		os.Exit(1)
	}

	tok, err := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer).
		GenerateToken(*subject, *vendorID, *tier, *role, *ttl)
	if err != nil {
		slog.Error("generating token", "error", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
