package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/draagon/codemesh/internal/ai"
	"github.com/draagon/codemesh/internal/evolve"
	"github.com/draagon/codemesh/internal/schema"
)

var fixNotes string

var schemasCmd = &cobra.Command{
	Use:   "schemas",
	Short: "Inspect and manage extraction schemas",
}

var schemasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded schemas with their trust",
	RunE: func(cmd *cobra.Command, args []string) error {
		schemas, trust, err := openSchemas()
		if err != nil {
			return err
		}

		fmt.Printf("%-24s %-12s %-8s %-8s %s\n", "NAME", "LANGUAGE", "VERSION", "EVOLVED", "TRUST")
		for _, sc := range schemas.All() {
			trustLabel := "-"
			if score, ok := trust.Trust(sc.Name); ok {
				trustLabel = fmt.Sprintf("%.2f", score)
			}
			evolved := ""
			if sc.Evolved {
				evolved = "yes"
			}
			fmt.Printf("%-24s %-12s %-8s %-8s %s\n",
				sc.Name, sc.Language, sc.Version, evolved, trustLabel)
		}
		return nil
	},
}

var schemasValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a schema file without installing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		sc, err := schema.Decode(data)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		patterns := 0
		for _, ps := range sc.Extractors {
			patterns += len(ps)
		}
		fmt.Printf("✓ %s is valid: %s schema %s v%s, %d patterns\n",
			args[0], sc.Language, sc.Name, sc.Version, patterns)
		return nil
	},
}

var schemasHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show per-schema learning health, worst trust first",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, trust, err := openSchemas()
		if err != nil {
			return err
		}
		health := trust.Health()
		if len(health) == 0 {
			fmt.Println("No learning history yet.")
			return nil
		}

		fmt.Printf("%-24s %-7s %-7s %-9s %-8s %s\n",
			"NAME", "TRUST", "LEVEL", "ACCURACY", "SAMPLES", "EVOLUTION")
		for _, h := range health {
			due := ""
			if h.NeedsEvolution {
				due = "due"
			}
			fmt.Printf("%-24s %-7.2f %-7s %-9.2f %-8d %s\n",
				h.Name, h.Trust, h.Level, h.Accuracy, h.Samples, due)
		}
		return nil
	},
}

var schemasFixCmd = &cobra.Command{
	Use:   "fix <schema> <pattern>",
	Short: "Ask the collaborator for an improved pattern regex",
	Long: `Fix sends one pattern's regex and your correction notes to the
collaborator and prints the suggested replacement. Nothing is installed;
review the suggestion and save it as an evolved schema if it helps.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(".")
		if err != nil {
			return err
		}
		if !cfg.AI.Enabled {
			return fmt.Errorf("ai is disabled in configuration")
		}

		schemas, trust, err := openSchemas()
		if err != nil {
			return err
		}
		collab := ai.NewClient(ai.ClientConfig{
			Model:           cfg.AI.Model,
			MaxOutputTokens: cfg.AI.MaxOutputTokens,
			Timeout:         cfg.AITimeout(),
		})
		evolver := evolve.NewEvolver(trust, schemas, collab,
			evolve.WithEvolverRetries(cfg.AI.MaxRetries))

		evolution, err := evolver.SuggestPatternFix(cmd.Context(), args[0], args[1], fixNotes)
		if err != nil {
			return err
		}
		fmt.Printf("Suggested regex (confidence %.2f):\n  %s\n", evolution.Confidence, evolution.NewRegex)
		if evolution.Reason != "" {
			fmt.Printf("Reason: %s\n", evolution.Reason)
		}
		return nil
	},
}

// openSchemas loads the schema store and trust store the way the
// extraction pipeline does.
func openSchemas() (*schema.Store, *evolve.TrustStore, error) {
	cfg, err := loadConfig(".")
	if err != nil {
		return nil, nil, err
	}
	home, err := cfg.HomeDir()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(home, 0755); err != nil {
		return nil, nil, err
	}

	trust, err := evolve.NewTrustStore(home, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	schemaDir := cfg.Schemas.Dir
	if schemaDir == "" {
		schemaDir = filepath.Join(home, "schemas")
	}
	schemas, err := schema.NewStore(schemaDir,
		schema.WithTrust(trust), schema.WithStoreLogger(slog.Default()))
	if err != nil {
		return nil, nil, err
	}
	return schemas, trust, nil
}

func init() {
	schemasFixCmd.Flags().StringVar(&fixNotes, "notes", "", "description of the mis-extractions to fix")
	schemasFixCmd.MarkFlagRequired("notes")

	schemasCmd.AddCommand(schemasListCmd)
	schemasCmd.AddCommand(schemasValidateCmd)
	schemasCmd.AddCommand(schemasHealthCmd)
	schemasCmd.AddCommand(schemasFixCmd)
	rootCmd.AddCommand(schemasCmd)
}
