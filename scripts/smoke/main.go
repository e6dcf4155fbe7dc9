package main

import (
	"context"
	"fmt"
	"log"

	"github.com/baithak/sandesh/pkg/chatclient"
)

// End-to-end poke against a locally running stack: logs two users in, sends a
// message from one to the other and verifies it shows up in both histories.
func main() {
	apiAddr := "http://localhost:8081"
	ctx := context.Background()

	alice := chatclient.NewHTTPClient(apiAddr)
	if err := alice.Login(ctx, "smoke_alice", "Alice"); err != nil {
		log.Fatal("login alice:", err)
	}
	bob := chatclient.NewHTTPClient(apiAddr)
	if err := bob.Login(ctx, "smoke_bob", "Bob"); err != nil {
		log.Fatal("login bob:", err)
	}
	fmt.Println("logins ok")

	msg, err := alice.Send(ctx, "smoke_bob", "smoke test", "")
	if err != nil {
		log.Fatal("send:", err)
	}
	fmt.Printf("confirmed message id=%d created_at=%s\n", msg.ID, msg.CreatedAt)
	if msg.IsRead {
		log.Fatal("new message should start unread")
	}

	history, err := bob.History(ctx, "smoke_alice")
	if err != nil {
		log.Fatal("history:", err)
	}
	for _, m := range history {
		if m.ID == msg.ID {
			fmt.Println("message visible in receiver history, smoke test passed")
			return
		}
	}
	log.Fatalf("message %d missing from receiver history (%d entries)", msg.ID, len(history))
}
