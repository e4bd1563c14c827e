// Command seed registers a handful of demo agents against a running
// server, for local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alice2025ai/alice-ai-server/internal/client"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	api := client.New(*baseURL)
	for i := 1; i <= 3; i++ {
		creds, err := client.NewCredentials()
		if err != nil {
			logger.Error("keygen failed", "error", err)
			os.Exit(1)
		}
		req := client.AddBotRequest{
			AgentName:      fmt.Sprintf("demo-agent-%d", i),
			ChainType:      "monad",
			SubjectAddress: creds.Address(),
			BotToken:       fmt.Sprintf("demo-token-%d", i),
			ChatGroupID:    fmt.Sprintf("-100%d", 1000+i),
			Bio:            fmt.Sprintf("Demo agent number %d", i),
		}
		resp, err := api.AddBot(ctx, req)
		if err != nil {
			logger.Error("request failed", "agent", req.AgentName, "error", err)
			os.Exit(1)
		}
		if !resp.Success {
			logger.Warn("agent not created", "agent", req.AgentName, "reason", resp.Error)
			continue
		}
		logger.Info("agent created", "agent", resp.Agent.AgentName, "subject", resp.Agent.SubjectAddress)
	}
}
