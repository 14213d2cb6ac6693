// Command rbacd runs the multi-tenant authorization HTTP service.
package main

import (
	"database/sql"
	"log"
	"os"

	"github.com/artha-au/rbacd/internal/config"
	"github.com/artha-au/rbacd/pkg/rbac"
	"github.com/artha-au/rbacd/pkg/server"
)

// Exit codes per spec.md §6: 0 success, 1 config error, 2 store unreachable.
const (
	exitConfigError      = 1
	exitStoreUnreachable = 2
)

func main() {
	logger := log.New(os.Stdout, "[rbacd] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Printf("config: %v", err)
		os.Exit(exitConfigError)
	}

	db, err := sql.Open(cfg.SQLDriverName(), cfg.DatabaseURL)
	if err != nil {
		logger.Printf("open database: %v", err)
		os.Exit(exitStoreUnreachable)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.Ping(); err != nil {
		logger.Printf("ping database: %v", err)
		os.Exit(exitStoreUnreachable)
	}

	dialect := rbac.DialectPostgres
	if cfg.DatabaseDialect == "sqlite" {
		dialect = rbac.DialectSQLite
	}

	cipher := rbac.NewFieldCipher(cfg.EncryptionKey, cfg.EnableEncryption)

	engine, err := rbac.QuickSetup(db, &rbac.SetupOptions{
		Dialect: dialect,
		Schema:  cfg.DatabaseSchema,
		Logger:  logger,
		Cipher:  cipher,
	})
	if err != nil {
		logger.Printf("setup: %v", err)
		os.Exit(exitStoreUnreachable)
	}

	boundary := rbac.NewBoundary(engine, []byte(cfg.JWTSecret), db)

	srvConfig := server.NewDefaultConfig()
	srvConfig.Host = cfg.ServerHost
	srvConfig.Port = cfg.ServerPort

	srv, err := server.New(srvConfig)
	if err != nil {
		logger.Fatalf("server: %v", err)
	}

	boundary.Routes(srv.Router())

	logger.Printf("rbacd listening on %s (dialect=%s)", srvConfig.ListenAddr(), dialect)
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatalf("serve: %v", err)
	}
}
