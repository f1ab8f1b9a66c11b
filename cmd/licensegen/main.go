// licensegen is the operator CLI: it generates master key files and
// issues licenses directly against the database, bypassing the HTTP
// admin surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"falconlic/internal/config"
	"falconlic/internal/license"
	"falconlic/internal/store/postgres"
)

func main() {
	var (
		keygen     = flag.Bool("keygen", false, "generate a new master key file and exit")
		keyFile    = flag.String("key", "license_master.key", "master key file path (with -keygen)")
		configFile = flag.String("config", "config.yaml", "path to the YAML configuration file")

		userID     = flag.String("user", "", "user ID to issue a license for")
		email      = flag.String("email", "", "user email")
		tierName   = flag.String("tier", "pro", "license tier")
		days       = flag.Int("days", 0, "override the tier's default term in days")
		paymentRef = flag.String("payment-ref", "", "payment reference")
		provider   = flag.String("provider", "", "payment provider name")
		autoRenew  = flag.Bool("auto-renew", false, "mark the license as auto-renewing")
	)
	flag.Parse()

	if *keygen {
		if err := license.GenerateMasterKey(*keyFile); err != nil {
			fatal(err)
		}
		fmt.Printf("master key written to %s\n", *keyFile)
		return
	}

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: licensegen -keygen | licensegen -user <id> [-tier pro] [-days N] ...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	tier := license.Tier(*tierName)
	if !tier.Valid() {
		fatal(fmt.Errorf("unknown tier %q", *tierName))
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fatal(err)
	}

	masterKey, err := license.LoadMasterKey(cfg.Security.MasterKeyFile)
	if err != nil {
		fatal(err)
	}
	codec, err := license.NewCodec(masterKey)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := postgres.Connect(ctx, postgres.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		fatal(err)
	}
	defer db.Close()

	if err := postgres.InitSchema(ctx, db); err != nil {
		fatal(err)
	}

	// CLI output goes to stdout; keep the structured log out of the way.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuer := license.NewIssuer(codec, postgres.NewLicenseStore(db), postgres.NewAuditStore(db), license.SystemClock(), logger)

	params := license.IssueParams{
		UserID:          *userID,
		Email:           *email,
		Tier:            tier,
		PaymentRef:      *paymentRef,
		PaymentProvider: *provider,
		AutoRenew:       *autoRenew,
	}
	if *days > 0 {
		params.ExpiresDays = days
	}

	lic, err := issuer.Issue(ctx, params)
	if err != nil {
		fatal(err)
	}

	fmt.Printf("license key: %s\n", lic.Key)
	fmt.Printf("tier:        %s\n", lic.Tier)
	if lic.ExpiresAt != nil {
		fmt.Printf("expires:     %s\n", lic.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Println("expires:     never")
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "licensegen:", err)
	os.Exit(1)
}
