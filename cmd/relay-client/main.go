package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/pkg/relayclient"
)

func main() {
	var (
		serverAddr = flag.String("server", "ws://localhost:3000/ws", "relay websocket URL")
		userID     = flag.String("user", "", "user id (anonymous when empty)")
		room       = flag.String("room", "", "room to join after connecting")
		logLevel   = flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  *logLevel,
		Format: "text",
	})

	serverURL, err := url.Parse(*serverAddr)
	if err != nil {
		log.Fatalf("invalid server URL: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := relayclient.New(*serverURL, relayclient.Options{Logger: logger, UserID: *userID})
	client.OnAny(func(ctx context.Context, ev relayclient.Event) error {
		fmt.Printf("< %s\n", ev.Raw)
		return nil
	})

	if err := client.Connect(ctx); err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer client.Disconnect()

	fmt.Printf("connected as %s (session %s)\n", client.UserID(), client.SessionID())

	if *room != "" {
		if err := client.JoinRoom(*room); err != nil {
			log.Fatalf("failed to join %s: %v", *room, err)
		}
	}

	printHelp()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			fmt.Println("connection closed")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := handleLine(client, *room, line); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		}
	}
}

// handleLine sends chat text, or runs a slash command
func handleLine(client *relayclient.Client, room, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return client.Chat(room, line)
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "join":
		return client.JoinRoom(arg)
	case "leave":
		return client.LeaveRoom(arg)
	case "ping":
		return client.Heartbeat()
	case "raw":
		return client.SendRaw([]byte(arg))
	case "help":
		printHelp()
		return nil
	default:
		return fmt.Errorf("unknown command /%s", cmd)
	}
}

func printHelp() {
	fmt.Println("commands: /join <room>, /leave <room>, /ping, /raw <json>, /help; other lines are sent as chat")
}
