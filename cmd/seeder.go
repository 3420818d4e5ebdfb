package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

type seedObligation struct {
	ID        string
	OwnerID   int64
	Kind      string
	Owed      string
	Collected string
}

type seedSource struct {
	ID          string
	OwnerID     int64
	SourceType  string
	Token       string
	Last4       string
	AccountType string
}

// Tokens follow the sandbox processor's conventions, so a seeded database can be collected
// against `charge-orchestrator sandbox` without further setup.
var (
	seedObligations = []seedObligation{
		{"ob-advance-1001", 1001, "advance_repayment", "75.00", "0"},
		{"ob-subscription-1001", 1001, "subscription", "9.99", "0"},
		{"ob-advance-1002", 1002, "advance_repayment", "150.00", "50.00"},
	}

	seedSources = []seedSource{
		{"src-card-1001", 1001, "debit_card", "tok_card_1001", "4242", ""},
		{"src-bank-1001", 1001, "bank_account", "tok_bank_1001", "6789", "checking"},
		{"src-card-nsf-1002", 1002, "debit_card", "tok_nsf_card_1002", "0002", ""},
		{"src-bank-1002", 1002, "bank_account", "tok_pending_bank_1002", "1234", "savings"},
	}
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample obligations and funding sources for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer sqlDB.Close()

		db, err := initGorm(sqlDB)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		if clearData {
			for _, table := range []string{"audit_records", "charge_attempts", "collection_guards", "funding_sources", "obligations"} {
				if err := db.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared collection data")
		}

		for _, o := range seedObligations {
			var exists int
			if err := db.Raw("SELECT 1 FROM obligations WHERE id = ?", o.ID).Row().Scan(&exists); err == nil {
				fmt.Println("obligation already exists:", o.ID)
				continue
			}

			if err := db.Exec("INSERT INTO obligations (id, owner_id, kind, amount_owed, already_collected, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?, 1, now(), now())",
				o.ID, o.OwnerID, o.Kind, o.Owed, o.Collected).Error; err != nil {
				log.Fatalf("failed to insert obligation %s: %v", o.ID, err)
			}
			fmt.Printf("Seeded obligation %s (%s, owed %s)\n", o.ID, o.Kind, o.Owed)
		}

		for _, s := range seedSources {
			var exists int
			if err := db.Raw("SELECT 1 FROM funding_sources WHERE id = ?", s.ID).Row().Scan(&exists); err == nil {
				fmt.Println("funding source already exists:", s.ID)
				continue
			}

			var accountType interface{}
			if s.AccountType != "" {
				accountType = s.AccountType
			}
			if err := db.Exec("INSERT INTO funding_sources (id, owner_id, source_type, external_token, last4, account_type, invalid, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, false, now(), now())",
				s.ID, s.OwnerID, s.SourceType, s.Token, s.Last4, accountType).Error; err != nil {
				log.Fatalf("failed to insert funding source %s: %v", s.ID, err)
			}
			fmt.Printf("Seeded funding source %s (%s)\n", s.ID, s.SourceType)
		}

		fmt.Println("Collection data seeded successfully")
	},
}
