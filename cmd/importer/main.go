// Command importer loads a spreadsheet of field values into an
// organization's data fields, recalculating affected KPIs as it goes.
//
// Usage: importer -org <org-id> [-file data.xlsx] [-insights]
package main

import (
	"context"
	"flag"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"gokpi/adapters/sheet"
	"gokpi/domain/core"
	"gokpi/internal/config"
	"gokpi/internal/container"
)

func main() {
	_ = godotenv.Load()

	orgFlag := flag.String("org", "", "organization ID to import into")
	fileFlag := flag.String("file", "", "spreadsheet to import (overrides IMPORT_FILE)")
	insightsFlag := flag.Bool("insights", false, "regenerate insights after the import")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	filePath := cfg.Import.FilePath
	if *fileFlag != "" {
		filePath = *fileFlag
	}
	if filePath == "" {
		log.Fatal("No import file given (use -file or IMPORT_FILE)")
	}

	orgID, err := core.ParseOrgID(*orgFlag)
	if err != nil {
		log.Fatalf("Invalid organization ID: %v", err)
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	c, err := container.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create container: %v", err)
	}
	if err := c.InitWithDatabase(db); err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer c.Close()

	rows, err := sheet.NewReader(filePath).Read()
	if err != nil {
		log.Fatalf("Failed to read %s: %v", filePath, err)
	}
	log.Printf("Read %d rows from %s", len(rows), filePath)

	ctx := context.Background()
	result, err := c.Import.ImportRows(ctx, orgID, "", rows)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	log.Printf("Import complete: %d rows processed, %d entries saved, %d KPI cells recalculated",
		result.RowsProcessed, result.EntriesSaved, result.Recalculated)
	for _, importErr := range result.Errors {
		log.Printf("  row %d: %s", importErr.Row, importErr.Err)
	}

	if *insightsFlag {
		insights, err := c.Insights.Generate(ctx, orgID)
		if err != nil {
			log.Fatalf("Insight generation failed: %v", err)
		}
		log.Printf("Generated %d insights", len(insights))
	}
}
