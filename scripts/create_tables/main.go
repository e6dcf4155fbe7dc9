package main

import (
	"log"
	"os"
	"strings"

	"github.com/baithak/sandesh/pkg/db"
)

// Schema bootstrap for the Scylla backend. Production deployments should use
// a migration tool; this covers local development.
func main() {
	scyllaHostsStr := os.Getenv("SANDESH_STORE_SCYLLA_HOSTS")
	if scyllaHostsStr == "" {
		scyllaHostsStr = "localhost:9042"
	}
	hosts := strings.Split(scyllaHostsStr, ",")

	sysSession, err := db.NewSession(hosts, "system")
	if err != nil {
		log.Fatalf("connect to system keyspace: %v", err)
	}
	err = sysSession.Query(`CREATE KEYSPACE IF NOT EXISTS chat
		WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	sysSession.Close()
	if err != nil {
		log.Fatalf("create keyspace: %v", err)
	}

	session, err := db.NewSession(hosts, "chat")
	if err != nil {
		log.Fatalf("connect to chat keyspace: %v", err)
	}
	defer session.Close()

	// Ascending clustering: history reads come back oldest first, which is
	// the display order.
	tables := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			conversation_id text,
			id bigint,
			sender_id text,
			receiver_id text,
			text text,
			image text,
			created_at timestamp,
			is_read boolean,
			PRIMARY KEY (conversation_id, id)
		) WITH CLUSTERING ORDER BY (id ASC)`,
		`CREATE TABLE IF NOT EXISTS user_conversations (
			user_id text,
			other_user_id text,
			last_updated timestamp,
			PRIMARY KEY (user_id, other_user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_counters (
			user_id text,
			other_user_id text,
			unread_count counter,
			PRIMARY KEY (user_id, other_user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id text PRIMARY KEY,
			name text,
			last_seen timestamp
		)`,
	}

	for _, ddl := range tables {
		if err := session.Query(ddl).Exec(); err != nil {
			log.Fatalf("create table: %v", err)
		}
	}

	log.Println("Schema created successfully")
}
