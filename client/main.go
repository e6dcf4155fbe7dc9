package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/baithak/sandesh/pkg/chatclient"
)

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	gwAddr := flag.String("gw", "localhost:8080", "gateway service address")
	userID := flag.String("user", "", "user id")
	name := flag.String("name", "", "display name")
	peerID := flag.String("peer", "", "user id to chat with")
	sound := flag.Bool("sound", true, "terminal bell on incoming messages")
	flag.Parse()

	if *userID == "" || *peerID == "" {
		fmt.Fprintln(os.Stderr, "both -user and -peer are required")
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	api := chatclient.NewHTTPClient(*apiAddr)
	fmt.Printf("Logging in as %s...\n", *userID)
	if err := api.Login(ctx, *userID, *name); err != nil {
		fmt.Fprintln(os.Stderr, "login failed:", err)
		os.Exit(1)
	}

	wsURL := url.URL{Scheme: "ws", Host: *gwAddr, Path: "/ws"}
	socket, err := chatclient.DialSocket(ctx, wsURL.String(), api.Token(), log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect failed:", err)
		os.Exit(1)
	}
	defer socket.Close()

	engine := chatclient.NewEngine(*userID, api, socket, log)
	defer engine.Teardown()
	engine.SetSoundEnabled(*sound)
	engine.SetNotify(func() { fmt.Print("\a") })
	engine.SetOnChange(func() { render(engine, *userID) })

	if err := engine.SelectPeer(ctx, *peerID); err != nil {
		fmt.Fprintln(os.Stderr, "open conversation:", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Print("> ")
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if done := handleLine(ctx, engine, line); done {
				return
			}
			fmt.Print("> ")
		case <-socket.Done():
			fmt.Println("connection lost")
			return
		case <-interrupt:
			return
		}
	}
}

// handleLine reports true when the session should end.
func handleLine(ctx context.Context, engine *chatclient.Engine, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case line == "/sound":
		engine.SetSoundEnabled(!engine.SoundEnabled())
		fmt.Printf("sound: %v\n", engine.SoundEnabled())
		return false
	case line == "/contacts":
		contacts, err := engine.Contacts(ctx)
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		for _, c := range contacts {
			marker := " "
			if c.Online {
				marker = "*"
			}
			fmt.Printf("%s %s %s\n", marker, c.UserID, c.Name)
		}
		return false
	case line == "/chats":
		convs, err := engine.ChatPartners(ctx)
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		for _, c := range convs {
			fmt.Printf("%s (unread: %d)\n", c.OtherUserID, c.UnreadCount)
		}
		return false
	case strings.HasPrefix(line, "/peer "):
		peer := strings.TrimSpace(strings.TrimPrefix(line, "/peer "))
		if err := engine.SelectPeer(ctx, peer); err != nil {
			fmt.Println("error:", err)
		}
		return false
	default:
		if err := engine.Send(ctx, line, ""); err != nil {
			fmt.Println("error:", err)
		}
		return false
	}
}

// render redraws the conversation. Own messages carry a delivery tick that
// doubles once the peer has read them.
func render(engine *chatclient.Engine, userID string) {
	entries := engine.Entries()
	fmt.Printf("\r--- %s ---\n", engine.SelectedPeer())
	for _, entry := range entries {
		switch e := entry.(type) {
		case chatclient.Pending:
			fmt.Printf("%s: %s ...\n", e.SenderID, e.Text)
		case chatclient.Confirmed:
			tick := ""
			if e.SenderID == userID {
				tick = " ✓"
				if e.IsRead {
					tick = " ✓✓"
				}
			}
			body := e.Text
			if body == "" && e.Image != "" {
				body = "[image]"
			}
			fmt.Printf("%s: %s%s\n", e.SenderID, body, tick)
		}
	}
	fmt.Print("> ")
}
