// cmd/tetrion-db/main.go
package main

import (
	"flag"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/tetrion/internal/dbserver"
	"github.com/jason-s-yu/tetrion/internal/store"
)

func main() {
	host := flag.String("host", envOr("TETRION_DB_HOST", "0.0.0.0"), "listen host")
	port := flag.Int("port", 10001, "listen port")
	dbPath := flag.String("db", envOr("TETRION_DB_PATH", "tetrion.db"), "sqlite database path")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	st, err := store.Open(*dbPath)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	srv := dbserver.New(st, logger)
	if err := srv.Listen(fmt.Sprintf("%s:%d", *host, *port)); err != nil {
		logger.Fatalf("listen: %v", err)
	}
	if err := srv.Serve(); err != nil {
		logger.Fatalf("serve: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
