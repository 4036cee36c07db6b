// cmd/tetrion-match/main.go
package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/tetrion/internal/match"
	"github.com/jason-s-yu/tetrion/internal/protocol"
)

// playerFlags collects repeated --player user_id:role arguments.
type playerFlags []match.PlayerSpec

func (p *playerFlags) String() string {
	parts := make([]string, len(*p))
	for i, spec := range *p {
		parts[i] = fmt.Sprintf("%d:%s", spec.UserID, spec.Role)
	}
	return strings.Join(parts, ",")
}

func (p *playerFlags) Set(v string) error {
	idStr, role, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("expected user_id:role, got %q", v)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return fmt.Errorf("bad user id %q: %w", idStr, err)
	}
	if role != protocol.RoleP1 && role != protocol.RoleP2 {
		return fmt.Errorf("bad role %q", role)
	}
	*p = append(*p, match.PlayerSpec{UserID: id, Role: role})
	return nil
}

func main() {
	var players playerFlags
	host := flag.String("host", "0.0.0.0", "listen host")
	port := flag.Int("port", 0, "listen port")
	matchID := flag.String("match-id", "", "match identifier")
	seed := flag.Int64("seed", 0, "shared bag seed")
	roomID := flag.Int64("room-id", 0, "room this match belongs to")
	lobbyAddr := flag.String("lobby-addr", "localhost:10002", "session service control channel")
	flag.Var(&players, "player", "authorized player as user_id:role (exactly two)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if len(players) != 2 || *matchID == "" || *port == 0 {
		logger.Fatal("usage: tetrion-match --port P --match-id M --seed S --room-id R --player id:P1 --player id:P2")
	}
	if players[0].Role != protocol.RoleP1 {
		players[0], players[1] = players[1], players[0]
	}

	srv := match.New(match.Config{
		MatchID:  *matchID,
		RoomID:   *roomID,
		Seed:     *seed,
		Players:  [2]match.PlayerSpec{players[0], players[1]},
		Logger:   logger,
		Reporter: &match.SessionReporter{Addr: *lobbyAddr},
	})
	if err := srv.Listen(fmt.Sprintf("%s:%d", *host, *port)); err != nil {
		logger.Fatalf("listen: %v", err)
	}
	if err := srv.Run(); err != nil {
		logger.Fatalf("match failed: %v", err)
	}
}
