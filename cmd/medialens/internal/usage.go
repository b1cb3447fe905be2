package internal

import (
	"fmt"
	"os"
)

const Version = "0.3.1"

// PrintUsage writes the top-level usage text to stderr.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, `medialens - Semantic search over local photos and videos

Version: %s

USAGE:
    medialens [global options] <command> [command options]

GLOBAL OPTIONS:
    -config <path>
        Path to config file (default: ~/.medialens/config/medialens.yaml)

    -root <path>
        Media directory to index or search (default: current directory)

    -version
        Show version information

    -h, -help
        Show this help message

COMMANDS:
    index
        Scan the media directory and index new photos and videos

    search
        Find media by describing it in natural language

    similar
        Find media similar to an already-indexed item

    stats
        Show index statistics

EXAMPLES:
    # Index the current directory
    medialens index

    # Index a specific directory, re-hashing everything
    medialens -root ~/Pictures index -full

    # Search by description
    medialens search "sunset over the ocean"

    # Only search videos, raise the score floor
    medialens search "birthday cake" -kind video -min-score 0.25

    # Filename keyword lookup instead of semantic search
    medialens search "IMG_2041" -name-only

    # More like this item
    medialens similar 3f1c9a...

For detailed help on each command, use:
    medialens <command> -help
`, Version)
}
