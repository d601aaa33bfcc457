package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joshdurbin/product-cache/internal/auth"
	"github.com/joshdurbin/product-cache/internal/cache"
	"github.com/joshdurbin/product-cache/internal/cache/memory"
	"github.com/joshdurbin/product-cache/internal/cache/redis"
	"github.com/joshdurbin/product-cache/internal/config"
	"github.com/joshdurbin/product-cache/internal/domain"
	"github.com/joshdurbin/product-cache/internal/enrich"
	"github.com/joshdurbin/product-cache/internal/events"
	"github.com/joshdurbin/product-cache/internal/logger"
	"github.com/joshdurbin/product-cache/internal/refresh"
	"github.com/joshdurbin/product-cache/internal/repository/sqlite"
	"github.com/joshdurbin/product-cache/internal/service"
	"github.com/joshdurbin/product-cache/internal/tracker"
	"github.com/joshdurbin/product-cache/internal/translate"
	"github.com/joshdurbin/product-cache/internal/transport/client"
	httpTransport "github.com/joshdurbin/product-cache/internal/transport/http"
	"github.com/joshdurbin/product-cache/internal/upstream"
)

// envToken holds the admin token used by client commands when --token is not set
const envToken = "PRODUCT_CACHE_TOKEN"

var rootCmd = &cobra.Command{
	Use:           "product-cache",
	Short:         "A tiered product search cache",
	Long:          "A product search aggregation service with a fast cache tier (memory or Redis), a durable SQLite tier and a SerpApi upstream",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the product search server",
	RunE:  runServer,
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Client commands for interacting with the server",
}

var searchCmd = &cobra.Command{
	Use:   "search [QUERY]",
	Short: "Search for products",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache tier statistics",
	RunE:  runStats,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear cached products",
	RunE:  runClear,
}

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Find stored products by substring or pattern",
	RunE:  runLookup,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin token signed with ADMIN_JWT_SECRET",
	RunE:  runToken,
}

func init() {
	// Server command flags
	serverCmd.Flags().StringP("port", "p", "8080", "Server port")
	serverCmd.Flags().String("db-path", "products.db", "Database file path")
	serverCmd.Flags().String("cache-backend", config.BackendMemory, "Fast tier backend (memory or redis)")
	serverCmd.Flags().String("redis-addr", "localhost:6379", "Redis address for the redis backend")
	serverCmd.Flags().Duration("request-timeout", 30*time.Second, "Budget of a single HTTP request")
	serverCmd.Flags().Int("min-coverage", 5, "Live durable products a query needs to skip upstream")
	serverCmd.Flags().Int("fast-ttl", domain.DefaultFastTTL, "Default fast tier TTL in seconds")
	serverCmd.Flags().Int("durable-ttl", domain.DefaultDurableTTL, "Default durable tier TTL in days")
	serverCmd.Flags().String("policy", "", "YAML file overriding the enrichment policy")
	serverCmd.Flags().String("env-file", "", "Env file to load instead of .env")

	// Refresh flags
	serverCmd.Flags().Bool("refresh", false, "Periodically refetch the most requested queries")
	serverCmd.Flags().Duration("refresh-interval", 6*time.Hour, "Interval between refresh rounds")
	serverCmd.Flags().Int("refresh-limit", 20, "Number of tracked queries refreshed per round")

	// Logging configuration flags
	serverCmd.Flags().BoolP("verbose", "v", false, "Enable verbose logging (debug level and error response bodies)")

	// Client command flags
	clientCmd.PersistentFlags().StringP("server-url", "u", "http://localhost:8080", "Server URL")
	clientCmd.PersistentFlags().StringP("token", "t", "", "Admin token (defaults to $"+envToken+")")

	searchCmd.Flags().StringP("category", "c", "", "Product category")
	searchCmd.Flags().IntP("max-results", "n", 0, "Maximum number of products")
	clearCmd.Flags().String("tier", domain.TierAll, "Tier to clear (fast, durable or all)")
	clearCmd.Flags().StringP("category", "c", "", "Only clear this category")
	lookupCmd.Flags().StringP("match", "m", "", "Substring of title or description")
	lookupCmd.Flags().String("pattern", "", "Regular expression over title or description")
	lookupCmd.Flags().Int("limit", 50, "Maximum number of products")

	tokenCmd.Flags().String("subject", "admin", "Token subject")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")

	// Add subcommands
	clientCmd.AddCommand(searchCmd, statsCmd, clearCmd, lookupCmd)
	rootCmd.AddCommand(serverCmd, clientCmd, tokenCmd)
}

// loadConfig layers defaults, env files, the environment, the policy file
// and finally explicitly set flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()

	var envFiles []string
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	if err := config.LoadEnv(cfg, envFiles...); err != nil {
		return nil, err
	}

	if policy, _ := cmd.Flags().GetString("policy"); policy != "" {
		if err := config.LoadPolicyFile(policy, cfg); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetString("port")
	}
	if flags.Changed("db-path") {
		cfg.Database.Path, _ = flags.GetString("db-path")
	}
	if flags.Changed("cache-backend") {
		cfg.Cache.Backend, _ = flags.GetString("cache-backend")
	}
	if flags.Changed("redis-addr") {
		cfg.Redis.Addr, _ = flags.GetString("redis-addr")
	}
	if flags.Changed("request-timeout") {
		cfg.Server.RequestTimeout, _ = flags.GetDuration("request-timeout")
	}
	if flags.Changed("min-coverage") {
		cfg.Search.MinCoverage, _ = flags.GetInt("min-coverage")
	}
	if flags.Changed("fast-ttl") {
		cfg.Cache.FastTTL, _ = flags.GetInt("fast-ttl")
	}
	if flags.Changed("durable-ttl") {
		cfg.Cache.DurableTTL, _ = flags.GetInt("durable-ttl")
	}
	if flags.Changed("refresh") {
		cfg.Refresh.Enabled, _ = flags.GetBool("refresh")
	}
	if flags.Changed("refresh-interval") {
		cfg.Refresh.Interval, _ = flags.GetDuration("refresh-interval")
	}
	if flags.Changed("refresh-limit") {
		cfg.Refresh.Limit, _ = flags.GetInt("refresh-limit")
	}
	cfg.Logging.Verbose, _ = flags.GetBool("verbose")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newFastTier(ctx context.Context, cfg *config.Config, log *zap.Logger) (cache.Cache, error) {
	if cfg.Cache.Backend == config.BackendRedis {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		return redis.New(connectCtx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
	}
	return memory.New(cfg.Cache.CleanupInterval, log), nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging.Verbose)
	defer func() { _ = log.Sync() }()

	log.Info("starting product cache server",
		zap.String("port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("db_path", cfg.Database.Path))

	if cfg.Upstream.APIKey == "" {
		log.Warn("search provider key not set, cold searches will fail", zap.String("env", config.EnvSerpAPIKey))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize fast tier
	fast, err := newFastTier(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize fast tier: %w", err)
	}

	// Initialize database
	repo, err := sqlite.New(cfg.Database.Path, log)
	if err != nil {
		_ = fast.Close()
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	pipeline := enrich.New(cfg.Enrichment, translate.New(cfg.Translation, log), log)
	hits := tracker.New(repo, cfg.Cache.TrackInterval, log)
	publisher := events.New(events.Options{Brokers: cfg.Events.Brokers, Topic: cfg.Events.Topic}, log)

	search := service.NewProductSearch(fast, repo, upstream.NewClient(cfg.Upstream, log), pipeline, cfg.Search, log,
		service.WithPublisher(publisher),
		service.WithRecorder(hits),
	)
	defer func() {
		if err := search.Close(); err != nil {
			log.Error("error closing product search", zap.Error(err))
		}
	}()

	if cfg.Refresh.Enabled {
		opts := refresh.DefaultOptions()
		opts.Limit = cfg.Refresh.Limit
		opts.MaxResults = cfg.Refresh.MaxResults

		job := refresh.New(search, repo, opts, log)
		if err := job.Start(ctx, cfg.Refresh.Interval); err != nil {
			return fmt.Errorf("failed to start refresh job: %w", err)
		}
		defer job.Stop()
	}

	// Create and start HTTP server
	server := httpTransport.NewServer(search, auth.New(cfg.Auth.Secret), httpTransport.Options{
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout,
		Verbose:        cfg.Logging.Verbose,
		Defaults: domain.Options{
			FastTTL:    cfg.Cache.FastTTL,
			DurableTTL: cfg.Cache.DurableTTL,
		},
	}, log)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("received shutdown signal, shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("error during server shutdown", zap.Error(err))
		}
	}

	log.Info("server stopped")
	return nil
}

func newCommands(cmd *cobra.Command) *client.Commands {
	serverURL, _ := cmd.Flags().GetString("server-url")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv(envToken)
	}
	return client.NewCommands(client.NewClient(serverURL, token))
}

func runSearch(cmd *cobra.Command, args []string) error {
	category, _ := cmd.Flags().GetString("category")
	maxResults, _ := cmd.Flags().GetInt("max-results")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	return newCommands(cmd).Search(ctx, args[0], category, domain.Options{MaxResults: maxResults})
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return newCommands(cmd).Stats(ctx)
}

func runClear(cmd *cobra.Command, args []string) error {
	tier, _ := cmd.Flags().GetString("tier")
	category, _ := cmd.Flags().GetString("category")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return newCommands(cmd).Clear(ctx, tier, category)
}

func runLookup(cmd *cobra.Command, args []string) error {
	match, _ := cmd.Flags().GetString("match")
	pattern, _ := cmd.Flags().GetString("pattern")
	limit, _ := cmd.Flags().GetInt("limit")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return newCommands(cmd).Lookup(ctx, domain.LookupFilter{Match: match, Pattern: pattern, Limit: limit})
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := config.LoadEnv(cfg); err != nil {
		return err
	}

	subject, _ := cmd.Flags().GetString("subject")
	ttl := cfg.Auth.TokenTTL
	if cmd.Flags().Changed("ttl") {
		ttl, _ = cmd.Flags().GetDuration("ttl")
	}

	token, err := auth.New(cfg.Auth.Secret).IssueToken(subject, []string{auth.RoleAdmin}, ttl)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
