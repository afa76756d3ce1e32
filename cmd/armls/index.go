package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/samvidmistry/Armls/internal/store"
)

var (
	flagForce  bool
	flagImport bool
)

var indexCmd = &cobra.Command{
	Use:   "index <schema-dir>",
	Short: "Build or refresh the provider schema catalog",
	Long:  "Catalogs the provider schemas under a directory into a SQLite database that the engine resolves schema URLs through. Unchanged files are skipped on refresh.",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete the catalog and rebuild it from scratch")
	indexCmd.Flags().BoolVar(&flagImport, "import", false, "catalog the entries of schema_index.json instead of walking the directory")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	schemaDir, err := resolveSchemaDir(args[0])
	if err != nil {
		return outputError(cmd, "index", err)
	}
	dbPath := resolveCatalogPath(schemaDir)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return outputError(cmd, "index", fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err))
	}

	if flagForce {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return outputError(cmd, "index", fmt.Errorf("removing catalog for --force: %w", err))
		}
		log.Infof("cleared catalog %s", dbPath)
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return outputError(cmd, "index", err)
	}
	defer s.Close()

	var stats store.Stats
	if flagImport {
		stats, err = s.ImportIndex(cmd.Context(), schemaDir)
	} else {
		stats, err = s.IndexDirectory(cmd.Context(), schemaDir, settings.BaseURL)
	}
	if err != nil {
		return outputError(cmd, "index", fmt.Errorf("indexing: %w", err))
	}

	log.Infof("indexed %s in %s", schemaDir, time.Since(start).Round(time.Millisecond))
	return outputResult(cmd.OutOrStdout(), CLIResult{
		Command: "index",
		Results: CLIIndexStats{
			Catalog:   dbPath,
			Indexed:   stats.Indexed,
			Unchanged: stats.Unchanged,
			Removed:   stats.Removed,
		},
	})
}

// resolveSchemaDir returns the absolute path of the directory to index.
func resolveSchemaDir(dir string) (string, error) {
	abs := resolvePath(dir)
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// resolveCatalogPath returns the configured catalog, or .armls/catalog.db
// inside schemaDir.
func resolveCatalogPath(schemaDir string) string {
	if settings.Catalog != "" {
		return settings.Catalog
	}
	return filepath.Join(schemaDir, ".armls", "catalog.db")
}
