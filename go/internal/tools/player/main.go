package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/clocksync"
	"github.com/mcdev12/quizlive/go/internal/gateway"
	"github.com/mcdev12/quizlive/go/internal/session"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "API server base URL")
	gatewayURL := flag.String("gateway", "ws://localhost:8081", "room gateway base URL")
	token := flag.String("token", os.Getenv("QUIZLIVE_TOKEN"), "bearer token")
	pin := flag.String("pin", "", "game PIN")
	nickname := flag.String("nickname", "", "display name (defaults to profile username)")
	seconds := flag.Int("countdown", 5, "countdown length in seconds")
	samples := flag.Int("samples", 1, "clock sync round trips")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if *pin == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "usage: player -pin 123456 -token <jwt>")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	client := session.NewClient(httpClient, *apiURL, *token)

	joined, err := client.JoinByPin(ctx, &session.JoinByPinRPCRequest{Pin: *pin, Nickname: *nickname})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to join")
	}
	log.Info().
		Str("session_id", joined.Session.ID.String()).
		Str("participant_id", joined.Participant.ID.String()).
		Bool("rejoined", joined.Rejoined).
		Msg("joined session")

	clock := clockwork.NewRealClock()
	syncer := clocksync.NewSynchronizer(clocksync.NewHTTPTimeSource(httpClient, *apiURL), clock, clocksync.Config{Samples: *samples})
	offset, err := syncer.Sync(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("clock sync failed, using local clock")
	}
	log.Info().Dur("offset", offset).Msg("clock synchronized")

	q := url.Values{}
	q.Set("session_id", joined.Session.ID.String())
	q.Set("participant_id", joined.Participant.ID.String())
	q.Set("token", *token)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, strings.TrimSuffix(*gatewayURL, "/")+"/ws/room?"+q.Encode(), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open room connection")
	}
	defer ws.Close()

	f := &follower{out: os.Stdout, now: syncer.Now, seconds: *seconds}

	// leave on interrupt and let the server send us to the dashboard
	go func() {
		<-ctx.Done()
		msg, _ := gateway.NewMessage(gateway.MessageTypeLeave, nil)
		if err := ws.WriteJSON(msg); err != nil {
			ws.Close()
		}
	}()

	for {
		var msg gateway.Message
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			log.Fatal().Err(err).Msg("room connection lost")
		}
		nav, err := f.handle(msg)
		if err != nil {
			log.Warn().Err(err).Str("type", string(msg.Type)).Msg("unreadable message")
			continue
		}
		if nav != nil {
			f.countdown(context.Background(), clock, *nav)
			return
		}
	}
}
