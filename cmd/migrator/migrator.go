package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/NordCoder/Campusbell/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

func main() {
	cmd := flag.String("cmd", "up", "goose command: up, down, status, version")
	flag.Parse()

	l, err := obs.NewLogger(obs.LogConfig{Level: os.Getenv("LOG_LEVEL"), App: "migrator"})
	if err != nil {
		panic(err)
	}
	defer func() { _ = l.Sync() }()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		l.Fatal("DB_DSN is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(zap.NewStdLog(l))
	if err := goose.SetDialect(string(goose.DialectPostgres)); err != nil {
		l.Fatal("set dialect", zap.Error(err))
	}
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		l.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	if err := goose.RunContext(ctx, *cmd, db, "."); err != nil {
		l.Fatal("migrate", zap.String("cmd", *cmd), zap.Error(err))
	}
	l.Info("migrations applied", zap.String("cmd", *cmd))
}
