package main

import (
	"github.com/meishi-bot/meishi/internal/api"
	"github.com/meishi-bot/meishi/internal/server/endpoints"
)

var serverURL string

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	reg := api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{}) {
		reg.Register(ep)
	}

	apiCmd := reg.BuildCommands(getServerURL)

	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	rootCmd.AddCommand(apiCmd)
}
