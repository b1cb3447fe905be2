package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/medialens/medialens/cmd/medialens/internal"
	"github.com/medialens/medialens/internal/config"
)

func main() {
	// .env may carry MEDIALENS_API_KEY; absence is not an error
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		internal.PrintUsage()
		os.Exit(1)
	}

	configPath := ""
	rootPath := ""
	args := os.Args[1:]

	for _, arg := range args {
		if arg == "-h" || arg == "-help" || arg == "--help" {
			internal.PrintUsage()
			os.Exit(0)
		}
		if arg == "-version" || arg == "--version" {
			fmt.Printf("medialens version %s\n", internal.Version)
			os.Exit(0)
		}
	}

	validSubcommands := map[string]bool{
		"index":   true,
		"search":  true,
		"similar": true,
		"stats":   true,
	}

	subcommandIndex := -1
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") && validSubcommands[arg] {
			subcommandIndex = i
			break
		}
	}

	if subcommandIndex == -1 {
		fmt.Fprintf(os.Stderr, "Error: No subcommand specified\n\n")
		internal.PrintUsage()
		os.Exit(1)
	}

	globalFlags := args[:subcommandIndex]
	for i := 0; i < len(globalFlags); i++ {
		flag := globalFlags[i]
		switch {
		case flag == "-config" || flag == "--config":
			if i+1 < len(globalFlags) {
				configPath = globalFlags[i+1]
				i++
			}
		case flag == "-root" || flag == "--root":
			if i+1 < len(globalFlags) {
				rootPath = globalFlags[i+1]
				i++
			}
		case strings.HasPrefix(flag, "-"):
			fmt.Fprintf(os.Stderr, "Error: Unknown global flag: %s\n\n", flag)
			internal.PrintUsage()
			os.Exit(1)
		}
	}

	subcommand := args[subcommandIndex]
	subcommandArgs := args[subcommandIndex+1:]

	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		if config.IsConfigNotFound(err) {
			if notFoundErr, ok := err.(*config.ConfigNotFoundError); ok && subcommand == "index" {
				created, createErr := config.WriteDefaultTemplate(notFoundErr.RequestedPath)
				if createErr != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
					fmt.Fprintf(os.Stderr, "Also failed to create default config at %s: %v\n\n", notFoundErr.RequestedPath, createErr)
					internal.PrintConfigExample()
					os.Exit(1)
				}
				if created {
					fmt.Fprintf(os.Stderr, "Created default config at %s\n", notFoundErr.RequestedPath)
				}
				fmt.Fprintln(os.Stderr, "Please update embedding.api_key in the config file and rerun `medialens index`.")
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			internal.PrintConfigExample()
			os.Exit(1)
		}
		log.Fatalf("Failed to load config: %v", err)
	}

	root, err := internal.ResolveRoot(rootPath)
	if err != nil {
		log.Fatalf("Failed to resolve media root: %v", err)
	}

	if cfg.Database.Path == "" {
		dbPath, err := internal.DefaultDBPath(root)
		if err != nil {
			log.Fatalf("Failed to determine database path: %v", err)
		}
		cfg.Database.Path = dbPath
	}
	if cfg.Database.TextIndexPath == "" {
		cfg.Database.TextIndexPath = internal.DefaultTextIndexPath(cfg.Database.Path)
	}

	runLog, err := internal.SetupRunLog(subcommand)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize run log: %v\n", err)
	}
	defer runLog.Close()

	switch subcommand {
	case "index":
		handleIndex(cfg, root, runLog, subcommandArgs)
	case "search":
		handleSearch(cfg, root, runLog, subcommandArgs)
	case "similar":
		handleSimilar(cfg, root, runLog, subcommandArgs)
	case "stats":
		handleStats(cfg, root, subcommandArgs)
	default:
		fmt.Printf("Unknown subcommand: %s\n\n", subcommand)
		internal.PrintUsage()
		os.Exit(1)
	}
}
