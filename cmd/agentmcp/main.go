package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"taskagent-backend/agent"
	"taskagent-backend/content"
	"taskagent-backend/ipfs"
	"taskagent-backend/llm"
	"taskagent-backend/mcp"
	"taskagent-backend/services"
	bstore "taskagent-backend/storage/bounty"
)

type config struct {
	StoreDriver     string
	PGDSN           string
	RPCURL          string
	RPCTimeoutSec   int
	ContractAddress string
	PrivateKey      string
	LLMBaseURL      string
	LLMAPIKey       string
	LLMModel        string
}

func loadConfig() config {
	storeDriver := os.Getenv("AGENT_STORE_DRIVER")
	if storeDriver == "" {
		storeDriver = "memory"
	}

	rpcTimeout := 30
	if raw := os.Getenv("AGENT_RPC_TIMEOUT_SEC"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			rpcTimeout = v
		}
	}

	return config{
		StoreDriver:     storeDriver,
		PGDSN:           os.Getenv("AGENT_PG_DSN"),
		RPCURL:          envDefault("AGENT_RPC_URL", "http://localhost:8545"),
		RPCTimeoutSec:   rpcTimeout,
		ContractAddress: os.Getenv("AGENT_CONTRACT_ADDRESS"),
		PrivateKey:      os.Getenv("AGENT_PRIVATE_KEY"),
		LLMBaseURL:      os.Getenv("AKASH_API_BASE"),
		LLMAPIKey:       os.Getenv("AKASH_API_KEY"),
		LLMModel:        os.Getenv("AKASH_MODEL"),
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	cfg := loadConfig()

	ctx := context.Background()
	var store bstore.Store
	var err error
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.PGDSN == "" {
			log.Fatal("AGENT_PG_DSN required when AGENT_STORE_DRIVER=postgres")
		}
		store, err = bstore.NewPGStore(ctx, cfg.PGDSN)
	default:
		store = bstore.NewMemoryStore()
	}
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer store.Close()

	provider := agent.NewProvider(agent.Config{
		LLM: llm.Config{
			BaseURL: cfg.LLMBaseURL,
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
		},
		RPCURL:          cfg.RPCURL,
		RPCTimeout:      time.Duration(cfg.RPCTimeoutSec) * time.Second,
		ContractAddress: cfg.ContractAddress,
		PrivateKey:      cfg.PrivateKey,
	})

	fetcher := content.NewFetcher(ipfs.NewClientFromEnv())
	svc := services.NewReviewService(&services.ProviderSource{Provider: provider}, fetcher, store)

	mcpServer := mcp.NewMCPServer(svc)

	log.Printf("Task agent MCP server starting (driver=%s)", cfg.StoreDriver)

	if err := server.ServeStdio(mcpServer.GetMCPServer()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
