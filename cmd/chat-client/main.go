package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/omochice/chatlink/internal/auth"
	"github.com/omochice/chatlink/internal/chat"
	"github.com/omochice/chatlink/internal/config"
	"github.com/omochice/chatlink/internal/transport"
	"github.com/omochice/chatlink/internal/transport/ws"
	"github.com/rs/zerolog"
)

// printListener acks every message with 200 and prints it.
type printListener struct {
	log zerolog.Logger
}

func (l *printListener) OnIncomingMessage(payload []byte, timestampMillis int64, ack *chat.ServerMessageAck) {
	fmt.Printf("<- [%d] %s\n", timestampMillis, payload)
	if err := ack.Send(context.Background(), 200); err != nil {
		l.log.Warn().Err(err).Msg("ack failed")
	}
}

func (l *printListener) OnQueueEmpty() {
	fmt.Println("*** queue empty ***")
}

func (l *printListener) OnConnectionInterrupted(cause error) {
	fmt.Printf("*** connection interrupted: %v ***\n", cause)
}

func main() {
	configPath := flag.String("config", "", "Path to TOML configuration")
	endpoint := flag.String("endpoint", "ws://localhost:8080/v1/websocket", "Chat endpoint (ignored when -config is set)")
	username := flag.String("username", "", "Credential username (empty for an unauthenticated session)")
	password := flag.String("password", "", "Credential one-time password")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg := config.Config{Chat: config.ChatConfig{Endpoint: *endpoint}}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("bad configuration")
		}
		cfg = loaded
	}

	var dialer transport.Dialer = ws.NewDialer()
	if cfg.Proxy != nil {
		proxied, err := ws.NewProxyDialer(transport.Proxy{Host: cfg.Proxy.Host, Port: cfg.Proxy.Port})
		if err != nil {
			log.Fatal().Err(err).Msg("bad proxy")
		}
		dialer = proxied
	}

	sessionCfg := chat.Config{
		Logger:         &log,
		ConnectTimeout: cfg.Chat.ConnectTimeout(),
		RequestTimeout: cfg.Chat.RequestTimeout(),
	}
	if *username != "" {
		sessionCfg.Auth = &auth.Auth{Username: *username, Password: *password}
	}

	session := chat.New(dialer, cfg.Chat.Endpoint, sessionCfg)
	session.SetListener(&printListener{log: log})

	if err := session.Connect(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}
	defer session.Close(context.Background())

	fmt.Println("Type a message to send (or '/keepalive', or 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		switch {
		case text == "":
			continue
		case text == "quit":
			return
		case text == "/keepalive":
			if err := session.SendKeepalive(context.Background()); err != nil {
				log.Error().Err(err).Msg("keepalive failed")
				continue
			}
			fmt.Println("-> keepalive ok")
		default:
			resp, err := session.Send(context.Background(), &chat.Request{
				Verb: "PUT",
				Path: "/v1/echo",
				Body: []byte(text),
			})
			if err != nil {
				log.Error().Err(err).Msg("send failed")
				continue
			}
			fmt.Printf("-> %d %s: %s\n", resp.Status, resp.Message, resp.Body)
		}
	}
}
