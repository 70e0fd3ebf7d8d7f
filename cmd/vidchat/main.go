// Vidchat answers questions about videos from their transcripts.
//
// It exposes an HTTP and WebSocket API for transcript upload, chat
// sessions, one-shot questions, and summaries, plus a CLI for one-off
// normalization and questions. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	vidchat serve                     Start the API server
//	vidchat init [dir]                Write an example config and data directory
//	vidchat normalize <file>          Normalize a transcript file to JSON
//	vidchat ask <video-id> <question> Ask one question about a stored video
//	vidchat usage                     Show today's usage for a viewer
//	vidchat version                   Print version and build information
//	vidchat -o json version           Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/vidchat/internal/api"
	"github.com/nugget/vidchat/internal/buildinfo"
	"github.com/nugget/vidchat/internal/chat"
	"github.com/nugget/vidchat/internal/config"
	"github.com/nugget/vidchat/internal/events"
	"github.com/nugget/vidchat/internal/llm"
	"github.com/nugget/vidchat/internal/memory"
	"github.com/nugget/vidchat/internal/mqtt"
	"github.com/nugget/vidchat/internal/quota"
	"github.com/nugget/vidchat/internal/summary"
	"github.com/nugget/vidchat/internal/transcript"
	"github.com/nugget/vidchat/internal/usage"
	"github.com/nugget/vidchat/internal/videos"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// cliUser is the viewer id used by the ask command when -user is not given.
const cliUser = "cli"

// main constructs the OS-level environment and delegates to [run], so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; the caller
// prints the returned error. Arguments are parsed by hand rather than
// with the flag package so that run holds no global state.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var user string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-user" && i+1 < len(args):
			user = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-user="):
			user = strings.TrimPrefix(args[i], "-user=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}
	if user == "" {
		user = cliUser
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "normalize":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: vidchat normalize <file>")
		}
		return runNormalize(stdout, configPath, cmdArgs[0], outputFmt)
	case "ask":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: vidchat ask <video-id> <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, user, cmdArgs[0], strings.Join(cmdArgs[1:], " "), outputFmt)
	case "usage":
		return runUsage(ctx, stdout, stderr, configPath, user, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "vidchat - transcript-grounded video Q&A")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: vidchat [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                      Start the API server")
	fmt.Fprintln(w, "  init [dir]                 Write an example config (default: .)")
	fmt.Fprintln(w, "  normalize <file>           Normalize a transcript file (text, VTT, or JSON cues)")
	fmt.Fprintln(w, "  ask <video-id> <question>  Ask one question about a stored video")
	fmt.Fprintln(w, "  usage                      Show today's usage and remaining quota")
	fmt.Fprintln(w, "  version                    Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w, "  -user <id>        Viewer id for ask and usage (default: cli)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runNormalize ingests a transcript file and prints the normalized form.
// A .json file holds either a cue array or an object with cues,
// transcript_text, and duration_seconds; anything else is raw text.
// The config file is optional here; without one the default timestamp
// threshold applies.
func runNormalize(stdout io.Writer, configPath, filePath, outputFmt string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	in, err := parseTranscriptFile(filePath, data)
	if err != nil {
		return err
	}

	parser := transcript.DefaultParser
	if cfgPath, err := config.FindConfig(configPath); err == nil {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", cfgPath, err)
		}
		parser = transcript.NewParser(cfg.Transcript.MillisThreshold)
	} else if configPath != "" {
		return err
	}

	n, err := transcript.NewIngestor(parser).Ingest(in)
	if err != nil {
		return fmt.Errorf("normalize %s: %w", filePath, err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(n)
	}
	fmt.Fprintf(stdout, "%d segments, %d words (%s)\n\n", n.SegmentCount, n.WordCount, n.Strategy)
	for _, seg := range n.Segments {
		fmt.Fprintf(stdout, "[%s - %s] %s\n", seg.StartTime, seg.EndTime, seg.Text)
	}
	return nil
}

func parseTranscriptFile(path string, data []byte) (transcript.Input, error) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return transcript.Input{Text: string(data)}, nil
	}
	var cues []transcript.Cue
	if err := json.Unmarshal(data, &cues); err == nil {
		return transcript.Input{Cues: cues}, nil
	}
	var in transcript.Input
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("parse %s: %w", path, err)
	}
	return in, nil
}

// runAsk answers one question about a stored video using the configured
// stores and generator. It shares quota with the server.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, user, videoID, question, outputFmt string) error {
	logger := config.NewLogger(stderr, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	loc, _ := cfg.Chat.Location() // validated
	pipeline := chat.New(chatConfig(cfg), chat.Deps{
		Videos:    st.catalog,
		Turns:     st.memory,
		Quota:     quota.NewChecker(st.usage, cfg.Chat.DailyLimit, loc, logger),
		Generator: newGenerator(cfg.Generation, logger),
		Logger:    logger,
	})

	ans, err := pipeline.Ask(ctx, videoID, user, question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}
	fmt.Fprintln(stdout, ans.Answer)
	if ans.Provider.Warning != "" {
		fmt.Fprintf(stderr, "warning: %s\n", ans.Provider.Warning)
	}
	return nil
}

// runUsage prints the viewer's quota consumption and token totals for
// the current quota day.
func runUsage(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, user, outputFmt string) error {
	logger := config.NewLogger(stderr, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	loc, _ := cfg.Chat.Location() // validated
	checker := quota.NewChecker(st.usage, cfg.Chat.DailyLimit, loc, logger)
	since, until := checker.Today()
	used, err := checker.Used(ctx, user)
	if err != nil {
		return err
	}
	byKind, err := st.usage.SummaryByKind(ctx, user, since, until)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"user_id": user,
			"since":   since,
			"used":    used,
			"limit":   checker.Limit(),
			"by_kind": byKind,
		})
	}
	fmt.Fprintf(stdout, "%s: %d of %d jobs used since %s\n", user, used, checker.Limit(), since.Format(time.RFC3339))
	for _, kind := range usage.QuotaKinds {
		if sum, ok := byKind[kind]; ok {
			fmt.Fprintf(stdout, "  %-8s %d jobs, %d input tokens, %d output tokens\n",
				kind, sum.TotalRecords, sum.TotalInputTokens, sum.TotalOutputTokens)
		}
	}
	return nil
}

// runServe loads config, opens the stores, wires the pipeline, and
// serves the API until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The MQTT forwarder publishes "offline" and disconnects
//  3. The HTTP server drains in-flight requests
//  4. Database connections are closed via defers
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting vidchat", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the level and format are known.
	logger = cfg.Logger(stdout)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"data_dir", cfg.DataDir,
		"provider", cfg.Generation.Provider,
		"model", cfg.Generation.Model,
		"catalog", cfg.Catalog.Driver,
	)

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	loc, _ := cfg.Chat.Location() // validated
	checker := quota.NewChecker(st.usage, cfg.Chat.DailyLimit, loc, logger)
	bus := events.New()
	gen := newGenerator(cfg.Generation, logger)
	if gen == nil {
		logger.Warn("no generation provider configured, answers will use saved video context only")
	}

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *chat.Metrics
	if cfg.Metrics.Enabled {
		metrics = chat.NewMetrics(reg)
	}

	pipeline := chat.New(chatConfig(cfg), chat.Deps{
		Videos:    st.catalog,
		Turns:     st.memory,
		Quota:     checker,
		Generator: gen,
		Bus:       bus,
		Metrics:   metrics,
		Logger:    logger,
	})

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, pipeline, st.catalog, st.memory, logger)
	server.SetIngestor(transcript.NewIngestor(transcript.NewParser(cfg.Transcript.MillisThreshold)))
	server.SetEventBus(bus)
	server.SetUsage(checker, st.usage)
	if gen != nil {
		server.SetSummarizer(summary.New(st.catalog, checker, gen, summary.Config{
			Model:        cfg.Summary.Model,
			SectionChars: cfg.Summary.SectionChars,
			Temperature:  cfg.Summary.Temperature,
		}, bus, logger))
	}
	if cfg.Metrics.Enabled {
		server.SetMetricsHandler(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	// --- MQTT forwarder ---
	var forwarder *mqtt.Forwarder
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		forwarder = mqtt.New(cfg.MQTT, instanceID, bus, mqtt.NewDailyCounts(loc), logger)
		go func() {
			if err := forwarder.Start(ctx); err != nil {
				logger.Error("mqtt forwarder failed", "error", err)
			}
		}()
		logger.Info("mqtt forwarding enabled",
			"broker", cfg.MQTT.Broker,
			"instance_id", instanceID,
			"prefix", cfg.MQTT.TopicPrefix,
		)
	} else {
		logger.Info("mqtt forwarding disabled (not configured)")
	}

	// --- Signal handling and graceful shutdown ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if forwarder != nil {
			if err := forwarder.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("vidchat stopped")
	return nil
}

// stores are the databases shared by serve and ask.
type stores struct {
	db      *sql.DB
	memory  *memory.SQLiteStore
	catalog *videos.Catalog
	usage   *usage.Store
}

// openStores opens the session database, the usage log, and the video
// catalog. The SQLite catalog shares the session database.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	st := &stores{}
	ok := false
	defer func() {
		if !ok {
			st.Close()
		}
	}()

	dbPath := filepath.Join(cfg.DataDir, "vidchat.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	st.db = db

	if st.memory, err = memory.NewSQLiteStore(db); err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	if st.usage, err = usage.NewStore(filepath.Join(cfg.DataDir, "usage.db")); err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}

	switch cfg.Catalog.Driver {
	case "postgres":
		st.catalog, err = videos.NewPostgresCatalog(ctx, cfg.Catalog.DSN)
	default:
		st.catalog, err = videos.NewSQLiteCatalog(db)
	}
	if err != nil {
		return nil, fmt.Errorf("open video catalog: %w", err)
	}

	logger.Debug("stores opened", "database", dbPath, "catalog", cfg.Catalog.Driver)
	ok = true
	return st, nil
}

// Close closes every open store. The SQLite catalog is closed with the
// shared database.
func (st *stores) Close() error {
	var errs []error
	if st.catalog != nil && st.catalog.Dialect() == videos.Postgres {
		errs = append(errs, st.catalog.Close())
	}
	if st.usage != nil {
		errs = append(errs, st.usage.Close())
	}
	if st.db != nil {
		errs = append(errs, st.db.Close())
	}
	return errors.Join(errs...)
}

// chatConfig maps the chat and generation sections to pipeline settings.
func chatConfig(cfg *config.Config) chat.Config {
	return chat.Config{
		CacheWindow:     cfg.Chat.CacheWindow,
		HistoryTurns:    cfg.Chat.HistoryTurns,
		TurnChars:       cfg.Chat.TurnChars,
		MaxMessageChars: cfg.Chat.MaxMessageChars,
		ExcerptChars:    cfg.Chat.ExcerptChars,
		Model:           cfg.Generation.Model,
		Temperature:     cfg.Generation.Temperature,
		MaxOutputTokens: cfg.Generation.MaxOutputTokens,
	}
}

// newGenerator builds a multi-provider generator. The configured
// provider is the fallback for any model not listed in
// generation.models; listed models route to their own provider. It
// returns nil when no provider is configured.
func newGenerator(cfg config.GenerationConfig, logger *slog.Logger) llm.Generator {
	if cfg.Provider == "" {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second

	build := func(provider, model string) llm.Generator {
		switch provider {
		case "ollama":
			return llm.NewOllamaClient(cfg.Ollama.URL, model, timeout, logger)
		case "anthropic":
			return llm.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.URL, model, logger)
		case "openai":
			return llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, model, timeout, logger)
		}
		return nil
	}

	primary := build(cfg.Provider, cfg.Model)
	multi := llm.NewMultiClient(primary)
	multi.AddProvider(primary)
	for _, m := range cfg.Models {
		if m.Provider != cfg.Provider {
			multi.AddProvider(build(m.Provider, ""))
		}
		multi.AddModel(m.Name, m.Provider)
	}

	logger.Info("generation initialized", "provider", cfg.Provider, "model", cfg.Model, "routed_models", len(cfg.Models))
	return multi
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used and must exist.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
