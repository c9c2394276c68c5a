// Package main is the entry point for chatcast.
//
//	@title			chatcast API
//	@version		1.0.0
//	@description	Real-time broadcast fan-out for chat messages.
//
//	@host		localhost:8080
//	@BasePath	/
//	@schemes	http
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token issued by chatcast token
//
//	@tag.name			health
//	@tag.description	Health and statistics endpoints
//	@tag.name			messages
//	@tag.description	Chat message history and posting
//	@tag.name			broadcast
//	@tag.description	Operator event publishing
//	@tag.name			conversations
//	@tag.description	Private conversation membership
package main

import (
	"fmt"
	"os"

	"github.com/brianly1003/chatcast/cmd/chatcast/cmd"

	_ "github.com/brianly1003/chatcast/internal/api/swagger" // swagger docs
)

// Version information (set by ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cmd.SetVersionInfo(Version, BuildTime, GitCommit)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
