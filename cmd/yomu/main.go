// Package main is the Yomu CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hondana/yomu/internal/chat"
	"github.com/hondana/yomu/internal/cli"
	"github.com/hondana/yomu/internal/config"
	"github.com/hondana/yomu/internal/library"
	"github.com/hondana/yomu/internal/search"
	"github.com/hondana/yomu/internal/server"
	"github.com/hondana/yomu/internal/storage"
	"github.com/hondana/yomu/internal/watcher"
	"github.com/hondana/yomu/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/yomu/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "yomu server" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "list":
		runList()
	case "delete":
		runDelete()
	case "search":
		runSearch()
	case "version", "--version", "-v":
		fmt.Printf("yomu version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components bundles the initialized subsystems shared by subcommands.
type Components struct {
	Storage      storage.Storage
	Index        *search.Index
	Library      *library.Library
	Orchestrator *chat.Orchestrator
}

// Close releases storage and index resources.
func (c *Components) Close() {
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	index, err := search.NewIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize search index: %w", err)
	}

	lib := library.New(store,
		library.WithLogger(logger),
		library.WithIndex(index),
	)

	provider := buildProvider(&cfg.Chat, logger)
	orchestrator := chat.NewOrchestrator(lib, store, provider,
		chat.WithLogger(logger),
		chat.WithTokenBudget(cfg.Chat.TokenBudget),
		chat.WithMaxHistory(cfg.Chat.MaxHistory),
		chat.WithRequestTimeout(time.Duration(cfg.Chat.RequestTimeoutSeconds)*time.Second),
	)

	return &Components{
		Storage:      store,
		Index:        index,
		Library:      lib,
		Orchestrator: orchestrator,
	}, nil
}

// buildProvider selects the LLM provider from config. An OpenAI-compatible
// provider without an API key falls back to the mock so the server still runs.
func buildProvider(cfg *config.ChatConfig, logger *zap.Logger) chat.Provider {
	switch cfg.Provider {
	case "openai":
		key := cfg.APIKey()
		if key == "" {
			logger.Warn("no API key found, falling back to mock provider",
				zap.String("api_key_env", cfg.APIKeyEnv))
			return &chat.MockProvider{}
		}
		return chat.NewOpenAIProvider(cfg.BaseURL, key, cfg.Model,
			time.Duration(cfg.RequestTimeoutSeconds)*time.Second)
	case "mock", "":
		return &chat.MockProvider{}
	default:
		logger.Warn("unknown chat provider, using mock", zap.String("provider", cfg.Provider))
		return &chat.MockProvider{}
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watchSvc *watcher.Watcher
	if len(cfg.Watch.Directories) > 0 {
		watchSvc = watcher.New(
			components.Library,
			cfg.Watch.Directories,
			cfg.Watch.Extensions,
			cfg.Watch.RecursiveOrDefault(),
			watcher.WithLogger(logger),
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		go watchSvc.SyncExistingFiles(watchCtx)
	}

	srv := server.NewServer(
		components.Library,
		components.Orchestrator,
		components.Index,
		components.Storage,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: yomu ingest [flags] <file.epub> [more files...]")
		os.Exit(1)
	}

	cfg, logger, components := mustInitialize(*configPath)
	defer components.Close()
	defer logger.Sync()
	_ = cfg

	ctx := context.Background()
	failed := false
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", path, err)
			failed = true
			continue
		}
		book, err := components.Library.Add(ctx, data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to ingest %s: %v\n", path, err)
			failed = true
			continue
		}
		_ = cli.WriteBook(os.Stdout, book, cli.OutputFormat(*output))
	}
	if failed {
		os.Exit(1)
	}
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	_, logger, components := mustInitialize(*configPath)
	defer components.Close()
	defer logger.Sync()

	books, err := components.Library.List(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list books: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteBookList(os.Stdout, books, cli.OutputFormat(*output))
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: yomu delete [flags] <book-id>")
		os.Exit(1)
	}

	_, logger, components := mustInitialize(*configPath)
	defer components.Close()
	defer logger.Sync()

	id := fs.Arg(0)
	if err := components.Library.Delete(context.Background(), id); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to delete %s: %v\n", id, err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %s\n", id)
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	bookID := fs.String("book", "", "restrict search to one book id")
	limit := fs.Int("limit", 10, "number of results")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: yomu search [flags] <query>")
		os.Exit(1)
	}

	_, logger, components := mustInitialize(*configPath)
	defer components.Close()
	defer logger.Sync()

	query := fs.Arg(0)
	for _, arg := range fs.Args()[1:] {
		query += " " + arg
	}
	results, err := components.Index.Search(context.Background(), query, *bookID, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteSearchResults(os.Stdout, results, cli.OutputFormat(*output))
}

// mustInitialize loads config, builds a quiet logger, and initializes
// components, exiting on any failure. Used by the one-shot subcommands.
func mustInitialize(configPath string) (*config.Config, *zap.Logger, *Components) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := zap.NewNop()
	if cfg.Debug {
		if l, err := utils.NewLogger(true); err == nil {
			logger = l
		}
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger, components
}

func printUsage() {
	fmt.Println(`yomu - EPUB library with chapter-aware reading chat

Usage:
  yomu server [flags]             Start the HTTP server
  yomu ingest [flags] <file...>   Ingest EPUB files into the library
  yomu list [flags]               List books in the library
  yomu delete [flags] <book-id>   Delete a book
  yomu search [flags] <query>     Full-text search over chapters
  yomu version                    Show version
  yomu help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/yomu/config.yaml)
  --debug            Enable debug logging

Ingest/List/Delete/Search Flags:
  --config string    Config file path
  --output string    Output format: text or json (ingest, list, search)
  --book string      Restrict search to one book id (search)
  --limit int        Number of results (search, default: 10)

Examples:
  yomu server
  yomu ingest novel.epub
  yomu list --output json
  yomu search --book book:1a2b3c "white whale"
  yomu delete book:1a2b3c`)
}
