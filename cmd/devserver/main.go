package main

import (
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/omochice/chatlink/internal/server"
	"github.com/rs/zerolog"
)

func main() {
	addr := flag.String("addr", ":8080", "Address to listen on (e.g., :8080)")
	enclaves := flag.String("enclaves", "sgx,nitro,tpm2snp", "Comma-separated enclave ids to host")
	pushEvery := flag.Duration("push-every", 5*time.Second, "Interval between demo message pushes (0 disables)")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	srv := server.New(strings.Split(*enclaves, ","), nil, &log)
	if err := srv.Start(*addr); err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	log.Info().Str("chat", srv.ChatURL()).Msg("devserver up")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var ticker *time.Ticker
	var tick <-chan time.Time
	if *pushEvery > 0 {
		ticker = time.NewTicker(*pushEvery)
		tick = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case now := <-tick:
			if srv.ChatConnCount() == 0 {
				continue
			}
			id := srv.PushMessage([]byte("demo message from devserver"), now.UnixMilli())
			log.Info().Uint64("id", id).Msg("pushed demo message")
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			srv.Stop()
			return
		}
	}
}
