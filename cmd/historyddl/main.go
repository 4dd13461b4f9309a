package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/jecitDev/jec-go-versioning/pkg/datachangelog"
	"github.com/jecitDev/jec-go-versioning/pkg/pgstore"
	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config/versioning.yaml", "versioning config file path")
	envFile := flag.String("env", ".env", "dotenv file with the variables referenced by the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := datachangelog.LoadConfigFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := writeDDL(os.Stdout, cfg); err != nil {
		log.Fatalf("Failed to generate DDL: %v", err)
	}
}

// writeDDL prints the live and shadow tables of the configured entities in registration order
func writeDDL(w io.Writer, cfg *datachangelog.Config) error {
	mirror := versioning.NewSchemaMirror()
	for _, schema := range cfg.Entities {
		if _, err := mirror.Register(schema); err != nil {
			return fmt.Errorf("entity %s: %w", schema.Name, err)
		}
	}

	for _, stmt := range pgstore.SchemaSQL(mirror) {
		if _, err := fmt.Fprintf(w, "%s;\n\n", stmt); err != nil {
			return err
		}
	}
	return nil
}
