package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
	"github.com/fyrsmithlabs/pcrsearch/internal/records"
)

var (
	catalogFile string
	recordsDB   string
	writeFIDs   bool
)

func init() {
	rootCmd.AddCommand(loadRecordsCmd)
	loadRecordsCmd.Flags().StringVar(&catalogFile, "catalog", "", "catalog JSON (default from config)")
	loadRecordsCmd.Flags().StringVar(&recordsDB, "db", "", "SQLite database path (default from config)")

	rootCmd.AddCommand(assignFIDsCmd)
	assignFIDsCmd.Flags().StringVar(&catalogFile, "catalog", "", "catalog JSON (default from config)")
	assignFIDsCmd.Flags().BoolVar(&writeFIDs, "write", false, "write the updated catalog back to the file")
}

var loadRecordsCmd = &cobra.Command{
	Use:   "load-records",
	Short: "Load the catalog into the SQLite record store",
	Long: `Insert or replace every catalog entry in the pcr_records table. Entries
without a pcr_reg_no are skipped.

Examples:
  pcrctl load-records --catalog ./pcr_list.json
  pcrctl load-records --db /tmp/pcr.db`,
	RunE: runLoadRecords,
}

var assignFIDsCmd = &cobra.Command{
	Use:   "assign-fids",
	Short: "Derive each catalog entry's fid from its download link",
	Long: `Set the fid of every catalog entry from the fid= parameter of its
download link. Entries without a link get "NoLink". Without --write the
result is printed to stdout.

Examples:
  pcrctl assign-fids --catalog ./pcr_list.json --write`,
	RunE: runAssignFIDs,
}

func catalogPathOrDefault() (string, error) {
	if catalogFile != "" {
		return catalogFile, nil
	}
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return "", err
	}
	return cfg.Indexer.CatalogFile, nil
}

func runLoadRecords(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadLocal()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	path := catalogFile
	if path == "" {
		path = cfg.Indexer.CatalogFile
	}
	entries, err := loadCatalogFile(path)
	if err != nil {
		return err
	}

	dbPath := recordsDB
	if dbPath == "" {
		dbPath = cfg.Records.Path
	}
	store, err := records.Open(dbPath, logger.Underlying())
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer store.Close()

	recs := make([]pcr.Record, len(entries))
	for i, e := range entries {
		recs[i] = e.Record()
	}
	res, err := store.Upsert(ctx, recs)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}
	total, err := store.Count(ctx)
	if err != nil {
		return err
	}

	cmd.Printf("Loaded %d records (%d skipped without pcr_reg_no); %d total in %s\n",
		res.Written, res.Skipped, total, store.Path())
	return nil
}

func runAssignFIDs(cmd *cobra.Command, args []string) error {
	path, err := catalogPathOrDefault()
	if err != nil {
		return err
	}
	entries, err := loadCatalogFile(path)
	if err != nil {
		return err
	}

	assigned, fidErr := pcr.AssignFIDs(entries)
	if fidErr != nil {
		cmd.PrintErrf("Some entries have no valid fid:\n%v\n", fidErr)
	}

	if !writeFIDs {
		if err := pcr.WriteCatalog(cmd.OutOrStdout(), entries); err != nil {
			return err
		}
		cmd.PrintErrf("Assigned %d of %d fids\n", assigned, len(entries))
		return nil
	}

	// Write beside the original and rename so a failed write keeps the file.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".catalog-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := pcr.WriteCatalog(tmp, entries); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace catalog: %w", err)
	}

	cmd.Printf("Assigned %d of %d fids in %s\n", assigned, len(entries), path)
	return nil
}
