package app

import (
	"portfolio-chat/internal/background"
	"portfolio-chat/internal/config"
	"portfolio-chat/internal/knowledge"
	"portfolio-chat/internal/metrics"
	"portfolio-chat/internal/ratelimit"
	"portfolio-chat/internal/repository/db"
	"portfolio-chat/internal/service/conversation"
	"portfolio-chat/internal/service/llm"
	"portfolio-chat/internal/service/relay"
)

// Config holds all application dependencies and configuration
type Config struct {
	// Database interface for data persistence; nil when no store is configured
	DB db.Database
	// Centralized application configuration
	AppConfig *config.AppConfig

	Limiter       *ratelimit.Limiter
	Knowledge     *knowledge.Provider
	Provider      llm.Provider
	Conversations *conversation.ConversationService
	Relay         *relay.RelayService
	Metrics       *metrics.Metrics
	// Tasks runs detached persistence work for the long-running server
	Tasks background.Dispatcher
}

// NewConfig wires the services on top of the given infrastructure
func NewConfig(
	database db.Database,
	appConfig *config.AppConfig,
	limiter *ratelimit.Limiter,
	knowledgeProvider *knowledge.Provider,
	provider llm.Provider,
	m *metrics.Metrics,
	tasks background.Dispatcher,
) *Config {
	conversations := conversation.NewConversationService(database, m)
	return &Config{
		DB:            database,
		AppConfig:     appConfig,
		Limiter:       limiter,
		Knowledge:     knowledgeProvider,
		Provider:      provider,
		Conversations: conversations,
		Relay:         relay.NewRelayService(limiter, knowledgeProvider, provider, conversations, m),
		Metrics:       m,
		Tasks:         tasks,
	}
}

// AdminEnabled reports whether the operator API can be served
func (c *Config) AdminEnabled() bool {
	return c.DB != nil && c.AppConfig.Admin.Enabled()
}
