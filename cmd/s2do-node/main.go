package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/api"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/approval"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/attest"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/auth"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/config"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/crypto"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/gate"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/observability"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/policy"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/sensitivity"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/tokenledger"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		// Default to server
		startServer()
		return 0
	}

	switch args[1] {
	case "server":
		startServer()
		return 0
	case "health":
		return runHealthCheck(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			startServer()
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[1])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: s2do-node <command> [arguments]")
	_, _ = fmt.Fprintln(w, "\nCommands:")
	_, _ = fmt.Fprintln(w, "  server     Run the governance node (default)")
	_, _ = fmt.Fprintln(w, "  health     Check health of a running node")
	_, _ = fmt.Fprintln(w, "  help       Show this message")
}

func runHealthCheck(stdout, stderr io.Writer) int {
	cfg := config.Load()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://localhost:" + cfg.Port + "/health")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "node unreachable: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "node unhealthy: %s\n", resp.Status)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "ok")
	return 0
}

//nolint:gocognit,gocyclo
func runServer() {
	log.Println("[s2do] governance node starting")
	ctx := context.Background()

	cfg := config.Load()
	slog.SetLogLoggerLevel(parseLogLevel(cfg.LogLevel))

	// 1. Observability
	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	if obsCfg.Enabled {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		log.Fatalf("Failed to init observability: %v", err)
	}
	if obsCfg.Enabled {
		log.Printf("[s2do] observability: exporting to %s", cfg.OTLPEndpoint)
	}

	// 2. Governance policy
	table := policy.Default()
	var schemas *policy.SchemaSet
	var review *sensitivity.Evaluator
	if cfg.GovernanceProfile != "" {
		profile, err := policy.LoadProfile(cfg.GovernanceProfile)
		if err != nil {
			log.Fatalf("Failed to load governance profile: %v", err)
		}
		table = profile.Apply(table)
		schemas, err = profile.SchemaSetFrom()
		if err != nil {
			log.Fatalf("Failed to compile profile schemas: %v", err)
		}
		review, err = sensitivity.FromProfile(profile)
		if err != nil {
			log.Fatalf("Failed to load sensitivity rules: %v", err)
		}
		log.Printf("[s2do] governance profile: %s v%s", profile.Name, profile.Version)
	} else {
		review, err = sensitivity.NewEvaluator()
		if err != nil {
			log.Fatalf("Failed to init sensitivity rules: %v", err)
		}
		log.Println("[s2do] governance profile: built-in defaults")
	}

	// 3. Stores
	var requestStore approval.RequestStore
	var tokenStore tokenledger.TokenStore
	if cfg.DatabaseURL != "" {
		driver := driverFor(cfg.DatabaseURL)
		db, err := sql.Open(driver, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("DB ping failed: %v", err)
		}
		rs, err := approval.NewSQLRequestStore(ctx, db)
		if err != nil {
			log.Fatalf("Failed to init request store: %v", err)
		}
		ts, err := tokenledger.NewSQLTokenStore(ctx, db)
		if err != nil {
			log.Fatalf("Failed to init token store: %v", err)
		}
		requestStore, tokenStore = rs, ts
		log.Printf("[s2do] %s: connected", driver)
	} else {
		requestStore = approval.NewMemoryRequestStore()
		tokenStore = tokenledger.NewMemoryTokenStore()
		log.Println("[s2do] stores: in-memory")
	}

	// 4. Attestation ledger
	var ledgerClient attest.Client
	if cfg.AttestURL != "" {
		ledgerClient = attest.NewHTTPClient(cfg.AttestURL)
		log.Printf("[s2do] attestation ledger: %s", cfg.AttestURL)
	} else {
		ledgerClient = attest.NewMemoryLedger()
		log.Println("[s2do] attestation ledger: embedded")
	}
	recorder := attest.NewRecorder(ledgerClient).Start()
	log.Println("[s2do] attestation recorder: ready")

	// 5. Signature verification
	keys := crypto.NewMemoryDirectory()
	schemeRouter := crypto.NewSchemeRouter()
	schemeRouter.Register(crypto.SchemeEd25519, crypto.NewEd25519Verifier(keys))
	if secret := os.Getenv("S2DO_HMAC_SECRET"); secret != "" {
		schemeRouter.Register(crypto.SchemeHMAC, crypto.NewHMACVerifier([]byte(secret)))
		log.Println("[s2do] hmac scheme: enabled")
	}

	// 6. Engine
	coordinator := approval.NewCoordinator(requestStore, table, schemeRouter, recorder)
	if schemas != nil {
		coordinator.WithSchemas(schemas)
	}
	log.Println("[s2do] approval coordinator: ready")

	tokens := tokenledger.NewLedger(tokenStore)
	log.Println("[s2do] audit token ledger: ready")

	var claims gate.ClaimStore
	if cfg.RedisAddr != "" {
		claims = gate.NewRedisClaimStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		log.Printf("[s2do] claim store: redis at %s", cfg.RedisAddr)
	} else {
		claims = gate.NewMemoryClaimStore()
		log.Println("[s2do] claim store: in-memory")
	}
	g := gate.NewGate(coordinator, tokens, review, claims)
	log.Println("[s2do] communication gate: ready")

	// 7. Auth
	keySet, err := auth.NewInMemoryKeySet()
	if err != nil {
		log.Fatalf("Failed to init KeySet: %v", err)
	}
	jwtValidator := auth.NewJWTValidator(keySet)
	if os.Getenv("S2DO_DEV_TOKEN") == "1" {
		token, err := devToken(ctx, keySet)
		if err != nil {
			log.Fatalf("Failed to mint dev token: %v", err)
		}
		log.Println("[s2do] dev token: ENABLED")
		log.Printf("[s2do] dev token: %s", token)
	}

	// 8. HTTP surface
	server := api.NewServer(coordinator, tokens, g).WithKeyRegistry(keys)
	limiter := api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	handler := auth.RequestIDMiddleware(limiter.Middleware(auth.NewMiddleware(jwtValidator)(server.Routes())))

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	log.Printf("[s2do] ready: http://localhost:%s", cfg.Port)
	log.Println("[s2do] press ctrl+c to stop")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[s2do] shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[s2do] http shutdown: %v", err)
	}
	// Drain queued attestations before the process exits.
	recorder.Close()
	if err := provider.Shutdown(shutdownCtx); err != nil {
		log.Printf("[s2do] observability shutdown: %v", err)
	}
}

// devToken mints a 24h operator token so a fresh node can be driven without
// an external identity provider. Never enable outside local development.
func devToken(ctx context.Context, keySet auth.KeySet) (string, error) {
	now := time.Now()
	return keySet.Sign(ctx, auth.ApproverClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dev-operator",
			Issuer:    "s2do-node",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		},
		Squadron: "squadron-01",
		Roles:    []string{"approver", "operator"},
	})
}

// driverFor picks the SQL driver from the URL shape. Postgres URLs carry a
// scheme; anything else is treated as a SQLite path or DSN.
func driverFor(databaseURL string) string {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
