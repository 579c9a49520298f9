package main

import (
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/kushan-developer/thermal-printer/internal/registry"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed resources/sql/schema.sql
var schema string

func NewRepository(path string) (*registry.Repository, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("Couldn't open database:\n%w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("Couldn't initialise database:\n%w", err)
	}
	return &registry.Repository{Db: db}, nil
}
