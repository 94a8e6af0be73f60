package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"reconciliation-service/config"
)

func main() {
	cfg := config.Load()

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	dir := "migrations"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list migrations: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No migration files found in %s\n", dir)
		os.Exit(1)
	}
	sort.Strings(files)

	for _, file := range files {
		ddl, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", file, err)
			os.Exit(1)
		}
		if _, err := db.Exec(string(ddl)); err != nil {
			fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", filepath.Base(file), err)
			os.Exit(1)
		}
		fmt.Printf("Applied %s\n", filepath.Base(file))
	}

	fmt.Println("Migration completed successfully!")
}
