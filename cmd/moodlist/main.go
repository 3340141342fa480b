// Package main provides the moodlist CLI application entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"moodlist/internal/cache"
	"moodlist/internal/core"
	"moodlist/internal/gate"
	httpserver "moodlist/internal/http"
	"moodlist/internal/llm"
	"moodlist/internal/reccobeat"
	"moodlist/internal/snapshot"
	"moodlist/internal/spotify"
	"moodlist/internal/store"
)

const (
	noneProvider     = "none"
	cacheMaxEntries  = 4096
	historyMax       = 100000
	historyErrorRate = 0.001
	pollInterval     = 2 * time.Second
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "moodlist",
	Short: "moodlist - mood prompt to Spotify playlist recommendation engine",
	Long: `moodlist turns free-form mood prompts into ordered Spotify playlists.
It analyzes intent and mood with an LLM, gathers seeds from the Spotify catalog,
generates candidates through artist discovery and the RecoBeats similarity
engine, iterates on quality, and orders the result into an energy arc.`,
	RunE: runServe,
}

var generateCmd = &cobra.Command{
	Use:   "generate [mood prompt]",
	Short: "Generate one playlist for a prompt and print it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGenerate,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("spotify-client-id", "", "Spotify client ID")
	rootCmd.PersistentFlags().String("spotify-client-secret", "", "Spotify client secret")
	rootCmd.PersistentFlags().String("spotify-market", "US", "Spotify market code")
	rootCmd.PersistentFlags().String("reccobeat-base-url", "", "RecoBeats API base URL")
	rootCmd.PersistentFlags().String("llm-provider", "none", "LLM provider (openai, anthropic, ollama, none)")
	rootCmd.PersistentFlags().String("llm-model", "", "LLM model name")
	rootCmd.PersistentFlags().String("llm-api-key", "", "LLM API key")
	rootCmd.PersistentFlags().Int("server-port", 8080, "HTTP server port")
	rootCmd.PersistentFlags().Int("daily-quota", 25, "workflows per user per day")
	rootCmd.PersistentFlags().String("snapshot-path", "", "SQLite snapshot database path")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	generateCmd.Flags().String("user", "cli", "user ID for quota accounting")
	rootCmd.AddCommand(generateCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(".env")
		viper.SetConfigType("env")
	}

	viper.SetEnvPrefix("MOODLIST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	if market := viper.GetString("spotify-market"); market != "" {
		cfg.Spotify.Market = market
	}

	if baseURL := viper.GetString("reccobeat-base-url"); baseURL != "" {
		cfg.RecoBeat.BaseURL = baseURL
	}

	cfg.LLM.Provider = viper.GetString("llm-provider")
	cfg.LLM.Model = viper.GetString("llm-model")
	cfg.LLM.APIKey = viper.GetString("llm-api-key")
	cfg.LLM.BaseURL = viper.GetString("llm-base-url")
	if temp := viper.GetFloat64("llm-temperature"); temp > 0 {
		cfg.LLM.Temperature = temp
	}
	cfg.LLM.InputCostPerMTok = viper.GetFloat64("llm-input-cost-per-mtok")
	cfg.LLM.OutputCostPerMTok = viper.GetFloat64("llm-output-cost-per-mtok")

	if host := viper.GetString("server-host"); host != "" {
		cfg.Server.Host = host
	}
	cfg.Server.Port = viper.GetInt("server-port")

	cfg.Log.Level = viper.GetString("log-level")

	if quota := viper.GetInt("daily-quota"); quota > 0 {
		cfg.Pipeline.DailyQuota = quota
	}
	if path := viper.GetString("snapshot-path"); path != "" {
		cfg.Pipeline.SnapshotPath = path
	}

	return cfg
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func validateConfig() error {
	if config.Spotify.ClientID == "" {
		return fmt.Errorf("spotify client ID is required")
	}
	if config.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client secret is required")
	}
	if config.LLM.Provider != noneProvider && config.LLM.Provider != "" {
		if config.LLM.APIKey == "" && config.LLM.Provider != "ollama" {
			return fmt.Errorf("LLM API key is required for provider: %s", config.LLM.Provider)
		}
	}
	return nil
}

// buildService wires all ports into a core.Service. The returned cleanup
// stops background goroutines and closes the snapshot store.
func buildService(ctx context.Context, metrics *httpserver.Metrics) (*core.Service, func(), error) {
	if err := validateConfig(); err != nil {
		return nil, nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	ttlCache := cache.New(cacheMaxEntries)

	spotifyClient, err := spotify.NewClient(ctx, &config.Spotify, ttlCache, metrics, logger.Named("spotify"))
	if err != nil {
		ttlCache.Stop()
		return nil, nil, fmt.Errorf("failed to create Spotify client: %w", err)
	}

	similarityClient := reccobeat.NewClient(&config.RecoBeat, logger.Named("reccobeat"))

	llmProvider, err := llm.New(&config.LLM, logger.Named("llm"))
	if err != nil {
		ttlCache.Stop()
		return nil, nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	llmProvider = llm.Instrument(llmProvider, config.LLM.Provider, metrics)

	snapshots, err := snapshot.NewStore(config.Pipeline.SnapshotPath, logger.Named("snapshot"))
	if err != nil {
		ttlCache.Stop()
		return nil, nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	service := core.NewService(core.ServiceDeps{
		Catalog:    spotifyClient,
		Similarity: similarityClient,
		LLM:        llmProvider,
		Gate:       gate.NewTopTracksGate(config.Pipeline.TopTracksInterval),
		Quota:      gate.NewQuota(config.Pipeline.DailyQuota),
		Snapshots:  snapshots,
		History:    store.NewHistory(historyMax, historyErrorRate),
		Metrics:    metrics,
	}, config, logger)

	cleanup := func() {
		ttlCache.Stop()
		if err := snapshots.Close(); err != nil {
			logger.Warn("failed to close snapshot store", zap.Error(err))
		}
	}
	return service, cleanup, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting moodlist",
		zap.String("llm_provider", config.LLM.Provider),
		zap.String("market", config.Spotify.Market))

	metrics := httpserver.NewMetrics()
	service, cleanup, err := buildService(ctx, metrics)
	if err != nil {
		return err
	}
	defer cleanup()

	server := httpserver.NewServer(&config.Server, service, metrics, logger.Named("http"))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.Pipeline.ShutdownBudget)
		defer shutdownCancel()
		return service.Shutdown(shutdownCtx)
	})

	logger.Info("moodlist started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("moodlist stopped with error", zap.Error(err))
		return err
	}

	logger.Info("moodlist stopped gracefully")
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	service, cleanup, err := buildService(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	userID, _ := cmd.Flags().GetString("user")
	prompt := strings.Join(args, " ")

	sessionID, err := service.StartWorkflow(ctx, userID, prompt)
	if err != nil {
		return fmt.Errorf("failed to start workflow: %w", err)
	}
	logger.Info("workflow started", zap.String("session", sessionID))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := service.Cancel(sessionID); err != nil {
				logger.Warn("cancel failed", zap.Error(err))
			}
			return ctx.Err()
		case <-ticker.C:
		}

		state, err := service.GetWorkflowState(sessionID)
		if err != nil {
			return err
		}
		if !state.Status.Terminal() {
			logger.Info("workflow in progress",
				zap.String("status", string(state.Status)),
				zap.String("step", state.CurrentStep))
			continue
		}

		switch state.Status {
		case core.StatusRecommendationsReady:
			printPlaylist(state)
			return nil
		case core.StatusCancelled:
			return fmt.Errorf("workflow cancelled")
		default:
			return fmt.Errorf("workflow failed: %s", state.ErrorMessage)
		}
	}
}

func printPlaylist(state *core.WorkflowState) {
	fmt.Printf("Playlist for %q (%d tracks)\n", state.MoodPrompt, len(state.Recommendations))
	if arc, ok := state.Metadata["energy_arc"].(string); ok {
		fmt.Printf("Energy arc: %s\n", arc)
	}
	fmt.Println()
	for i := range state.Recommendations {
		r := &state.Recommendations[i]
		marker := " "
		if r.UserMentioned {
			marker = "*"
		}
		fmt.Printf("%2d. %s %s - %s [%s] (%.2f)\n",
			i+1, marker, strings.Join(r.Artists, ", "), r.TrackName, r.Source, r.ConfidenceScore)
	}
}
