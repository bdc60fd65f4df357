package main

import (
	"fmt"
	"os"

	_ "github.com/sandahltim/RFID3-sub003/internal/storage/mssql"
	_ "github.com/sandahltim/RFID3-sub003/internal/storage/postgres"
	_ "github.com/sandahltim/RFID3-sub003/internal/storage/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "recon: %v\n", err)
		os.Exit(1)
	}
}
