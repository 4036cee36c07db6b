// cmd/tetrion-lobby/main.go
package main

import (
	"flag"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/tetrion/internal/dbclient"
	"github.com/jason-s-yu/tetrion/internal/launcher"
	"github.com/jason-s-yu/tetrion/internal/lobby"
)

func main() {
	host := flag.String("host", envOr("TETRION_LOBBY_HOST", "0.0.0.0"), "listen host")
	port := flag.Int("port", 10002, "listen port")
	dbAddr := flag.String("db-addr", envOr("TETRION_DB_ADDR", "localhost:10001"), "persistence service address")
	matchBin := flag.String("match-bin", envOr("TETRION_MATCH_BIN", "tetrion-match"), "match server executable")
	advertise := flag.String("advertise-host", envOr("TETRION_ADVERTISE_HOST", "localhost"), "host advertised to clients for match servers")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	db, err := dbclient.Dial(*dbAddr, logger)
	if err != nil {
		logger.Fatalf("connect persistence: %v", err)
	}
	defer db.Close()

	// Match servers report results back to this service's own listen
	// address over the control channel.
	lobbyAddr := fmt.Sprintf("localhost:%d", *port)
	ml := launcher.New(*matchBin, *advertise, lobbyAddr, logger)
	defer ml.Shutdown()

	srv := lobby.New(db, ml, logger)
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
