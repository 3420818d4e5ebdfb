package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/charge-orchestrator/internal/audit"
	auditpg "github.com/frahmantamala/charge-orchestrator/internal/audit/postgres"
	"github.com/frahmantamala/charge-orchestrator/pkg/logger"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the charge audit trail",
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print audit entries as JSON lines",
	Long:  `Print the audit entries of a holder (--owner-id) or of one processor reference (--reference), one JSON object per line`,
	RunE:  runAuditExport,
}

var (
	auditOwnerID   int64
	auditReference string
	auditLimit     int
)

func runAuditExport(_ *cobra.Command, _ []string) error {
	if (auditOwnerID == 0) == (auditReference == "") {
		return fmt.Errorf("exactly one of --owner-id or --reference is required")
	}

	config, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := initDB(config.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	service := audit.NewService(auditpg.NewReader(db), logger.L())
	ctx := context.Background()

	var entries []audit.Entry
	if auditReference != "" {
		entries, err = service.ByReference(ctx, auditReference)
	} else {
		entries, err = service.ByOwner(ctx, auditOwnerID, auditLimit)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	auditExportCmd.Flags().Int64Var(&auditOwnerID, "owner-id", 0, "Holder whose entries to export")
	auditExportCmd.Flags().StringVar(&auditReference, "reference", "", "Processor reference id whose entries to export")
	auditExportCmd.Flags().IntVar(&auditLimit, "limit", 0, "Maximum entries for --owner-id (service default when 0)")

	auditCmd.AddCommand(auditExportCmd)
	rootCmd.AddCommand(auditCmd)
}
