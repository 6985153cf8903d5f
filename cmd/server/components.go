package main

import (
	"time"

	"github.com/ashureev/studyrelay/internal/agent"
	"github.com/ashureev/studyrelay/internal/config"
	"github.com/ashureev/studyrelay/internal/dispatch"
	"github.com/ashureev/studyrelay/internal/whatsapp"
)

// sendBudget covers the outbound sends of one delivery after its answer
// engine call returns.
const sendBudget = 20 * time.Second

func agentConfig(c *config.Config) agent.Config {
	return agent.Config{
		Provider:      c.AI.Provider,
		GeminiAPIKey:  c.AI.GeminiAPIKey,
		GeminiModel:   c.AI.GeminiModel,
		OpenAIAPIKey:  c.AI.OpenAIAPIKey,
		OpenAIModel:   c.AI.OpenAIModel,
		OpenAIBaseURL: c.AI.OpenAIBaseURL,
		Timeout:       c.AI.Timeout,
	}
}

func dispatchConfig(c *config.Config) dispatch.Config {
	loc, err := c.Location()
	if err != nil {
		loc = time.Local
	}
	return dispatch.Config{
		LoginRequired: c.Relay.LoginRequired,
		ChunkSize:     c.Relay.ChunkSize,
		Location:      loc,
		RatePerMinute: c.AI.RatePerMinute,
	}
}

func whatsAppConfig(c *config.Config) whatsapp.Config {
	return whatsapp.Config{
		Token:         c.WhatsApp.Token,
		PhoneNumberID: c.WhatsApp.PhoneNumberID,
		APIVersion:    c.WhatsApp.APIVersion,
		BaseURL:       c.WhatsApp.BaseURL,
	}
}

func transcriptConfig(c *config.Config) agent.ConversationLogConfig {
	return agent.ConversationLogConfig{
		Enabled:   c.ConversationLog.Enabled,
		Dir:       c.ConversationLog.Dir,
		QueueSize: c.ConversationLog.QueueSize,
	}
}

// shutdownBudget is how long shutdown waits for in-flight deliveries before
// the store is closed: one full answer engine call plus its sends.
func shutdownBudget(aiTimeout time.Duration) time.Duration {
	if aiTimeout <= 0 {
		aiTimeout = agent.DefaultConfig().Timeout
	}
	return aiTimeout + sendBudget
}
