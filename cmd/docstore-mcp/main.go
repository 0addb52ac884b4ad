// Command docstore-mcp runs the in-memory docstore MCP server over
// stdio. It is used for local runs and for testing the capability
// client without external document providers.
package main

import (
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/agentd-ai/agentd/pkg/mcpserver/docstore"
)

func main() {
	store := docstore.NewStore()
	// DOCSTORE_SEED primes doc1 with an initial body, handy for demos.
	if seed := os.Getenv("DOCSTORE_SEED"); seed != "" {
		store.Seed("doc1", seed)
	}

	s := docstore.NewServer(store)
	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}
