package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"taskagent-backend/agent"
	"taskagent-backend/content"
	"taskagent-backend/ipfs"
	"taskagent-backend/llm"
	mw "taskagent-backend/middleware/bounty"
	"taskagent-backend/services"
	bstore "taskagent-backend/storage/bounty"
)

type config struct {
	Port            string
	StoreDriver     string
	PGDSN           string
	APIKey          string
	RPCURL          string
	RPCTimeoutSec   int
	ContractAddress string
	PrivateKey      string
	LLMBaseURL      string
	LLMAPIKey       string
	LLMModel        string
	LLMTimeoutSec   int
	PayoutAmount    string
}

func loadConfig() config {
	port := os.Getenv("AGENT_PORT")
	if port == "" {
		port = "3001"
	}

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

	llmTimeout := 120
	if raw := os.Getenv("AKASH_TIMEOUT_SEC"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			llmTimeout = v
		}
	}

	return config{
		Port:            port,
		StoreDriver:     storeDriver,
		PGDSN:           os.Getenv("AGENT_PG_DSN"),
		APIKey:          os.Getenv("AGENT_API_KEY"),
		RPCURL:          envDefault("AGENT_RPC_URL", "http://localhost:8545"),
		RPCTimeoutSec:   rpcTimeout,
		ContractAddress: os.Getenv("AGENT_CONTRACT_ADDRESS"),
		PrivateKey:      os.Getenv("AGENT_PRIVATE_KEY"),
		LLMBaseURL:      os.Getenv("AKASH_API_BASE"),
		LLMAPIKey:       os.Getenv("AKASH_API_KEY"),
		LLMModel:        os.Getenv("AKASH_MODEL"),
		LLMTimeoutSec:   llmTimeout,
		PayoutAmount:    os.Getenv("AGENT_PAYOUT_AMOUNT"),
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
			Timeout: time.Duration(cfg.LLMTimeoutSec) * time.Second,
		},
		RPCURL:          cfg.RPCURL,
		RPCTimeout:      time.Duration(cfg.RPCTimeoutSec) * time.Second,
		ContractAddress: cfg.ContractAddress,
		PrivateKey:      cfg.PrivateKey,
	})

	ipfsClient := ipfs.NewClientFromEnv()
	fetcher := content.NewFetcher(ipfsClient)

	svc := services.NewReviewService(&services.ProviderSource{Provider: provider}, fetcher, store)
	if cfg.PayoutAmount != "" {
		svc = svc.WithPayoutAmount(cfg.PayoutAmount)
	}

	srv := mw.NewServer(svc, ipfsClient, cfg.APIKey)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	handler := mw.Recovery(
		mw.Logging(
			mw.CORS(
				mw.Timeout(5 * time.Minute)(mux),
			),
		),
	)

	log.Printf("Task agent server starting on :%s (driver=%s)", cfg.Port, cfg.StoreDriver)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, handler))
}
