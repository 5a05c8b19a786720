// Package main is the entry point for the SearchX daemon and CLI.
//
// The daemon (`searchx serve`) hosts the request router for the browser
// extension. Every other subcommand is an adapter: it talks to the running
// daemon over loopback HTTP, or drives an in-process router over the same
// settings store when no daemon is up.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/searchx/searchx/internal/config"
	"github.com/searchx/searchx/internal/tui"
)

// configRelPath is the config location under the XDG config dirs.
const configRelPath = "searchx/searchx.yaml"

// loadEnvFiles loads .env from standard locations
func loadEnvFiles() {
	// ~/.config/searchx/.env first, then a local .env (can override)
	if p, err := xdg.SearchConfigFile("searchx/.env"); err == nil {
		_ = godotenv.Load(p)
	}
	_ = godotenv.Load()
}

func main() {
	if len(os.Args) < 2 {
		printHelp()
		return
	}

	loadEnvFiles()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "serve", "start":
		err = runServe(args)
	case "key":
		err = runKey(args)
	case "set":
		err = runSet(args)
	case "simplify", "explain":
		err = runSimplify(args)
	case "show":
		err = runShow(args)
	case "clear":
		err = runClear(args)
	case "status":
		err = runStatus(args)
	case "setup":
		err = runSetup(args)
	case "version", "-v", "--version":
		PrintVersion()
	case "help", "-h", "--help":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printHelp()
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, tui.ErrCancelled) {
			return
		}
		tui.PrintError(err.Error())
		os.Exit(1)
	}
}

// resolveConfig resolves the config file.
// Checks: user flag -> $SEARCHX_CONFIG -> XDG config dirs -> ./configs -> embedded.
// Returns raw bytes and source description.
func resolveConfig(userConfig string) ([]byte, string, error) {
	if userConfig == "" {
		userConfig = os.Getenv("SEARCHX_CONFIG")
	}
	if userConfig != "" {
		data, err := os.ReadFile(userConfig)
		if err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", userConfig)
		}
		return data, userConfig, nil
	}

	var searchPaths []string
	if p, err := xdg.SearchConfigFile(configRelPath); err == nil {
		searchPaths = append(searchPaths, p)
	}
	searchPaths = append(searchPaths, filepath.Join("configs", "searchx.yaml"))

	for _, path := range searchPaths {
		if data, err := os.ReadFile(path); err == nil {
			return data, path, nil
		}
	}

	if data, err := getEmbeddedConfig(defaultConfigName); err == nil {
		return data, "(embedded) searchx.yaml", nil
	}

	return nil, "", fmt.Errorf("no config file found. Specify --config path")
}

// loadConfig resolves and parses the config.
func loadConfig(userConfig string) (*config.Config, string, error) {
	data, source, err := resolveConfig(userConfig)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadFromBytes(data)
	if err != nil {
		return nil, source, fmt.Errorf("failed to load configuration from %s: %w", source, err)
	}
	return cfg, source, nil
}

// setupLogging configures zerolog for CLI commands. Output goes to stderr so
// command output on stdout stays pipeable.
func setupLogging(debug bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
}

// printHelp prints usage information
func printHelp() {
	tui.PrintBanner()
	fmt.Println("SearchX - explain, summarize or look up highlighted text")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  searchx <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve        Start the daemon the browser extension talks to")
	fmt.Println("  setup        Interactive first-run setup (API key, mode, length, language)")
	fmt.Println("  key set      Save the completion API key (prompts when omitted)")
	fmt.Println("  key check    Check whether a usable API key is saved")
	fmt.Println("  set          Change one setting: mode, length, language, enabled, role")
	fmt.Println("  simplify     Simplify text from arguments or stdin")
	fmt.Println("  show         Show settings and the last simplification")
	fmt.Println("  clear        Discard the last simplification")
	fmt.Println("  status       Report whether the daemon is running")
	fmt.Println("  version      Print version information")
	fmt.Println("  help         Show this help message")
	fmt.Println()
	fmt.Println("Common Options:")
	fmt.Println("  --config FILE    Config file (default: XDG config dir, then embedded)")
	fmt.Println("  --local          Do not contact the daemon; use the settings store directly")
	fmt.Println("  --debug          Enable debug logging")
	fmt.Println()
	fmt.Println("Server Options:")
	fmt.Println("  searchx serve [--config FILE] [--port PORT] [--debug] [--no-banner]")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  searchx setup")
	fmt.Println("  searchx set mode summarize")
	fmt.Println("  searchx set language fr")
	fmt.Println("  echo \"The mitochondria is the powerhouse of the cell.\" | searchx simplify")
	fmt.Println("  searchx simplify --title \"Cell biology\" --context notes.txt \"ATP synthase\"")
}
