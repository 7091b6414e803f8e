package store

import "embed"

// Migrations holds the PostgreSQL schema for the contacts table.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsRoot is the directory inside Migrations that holds the files.
const MigrationsRoot = "migrations"
