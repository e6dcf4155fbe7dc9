package main

import (
	"log"
	"os"
	"strings"

	"github.com/baithak/sandesh/pkg/db"
)

func main() {
	scyllaHostsStr := os.Getenv("SANDESH_STORE_SCYLLA_HOSTS")
	if scyllaHostsStr == "" {
		scyllaHostsStr = "localhost:9042"
	}
	hosts := strings.Split(scyllaHostsStr, ",")

	session, err := db.NewSession(hosts, "chat")
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer session.Close()

	for _, table := range []string{"messages", "user_conversations", "conversation_counters", "users"} {
		log.Printf("Dropping table %s...", table)
		if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			log.Fatalf("drop %s: %v", table, err)
		}
	}
	log.Println("Tables dropped successfully")
}
