// Package models holds the GORM row types for the audit log: every
// provider-pipeline attempt is written to api_calls, and every
// successful attempt's usage counters to token_usage.
package models

import "time"

// APICallModel is one row of the api_calls table; one row per attempt
// the provider pipeline makes, successful or not.
type APICallModel struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp    time.Time `gorm:"index"`
	SessionID    string    `gorm:"size:64;index"`
	APIBaseURL   string    `gorm:"size:255"`
	RequestJSON  string    `gorm:"type:text"`
	HeadersJSON  string    `gorm:"type:text"`
	ResponseJSON string    `gorm:"type:text"`
	Model        string    `gorm:"size:128"`
	Status       string    `gorm:"size:32"` // success, error
	HTTPStatus   int
	ErrorMessage string `gorm:"type:text"`
	DurationMS   int64
	ToolCount    int
	CreatedAt    time.Time
}

func (APICallModel) TableName() string { return "api_calls" }

// TokenUsageModel is one row of the token_usage table, correlated to its
// api_calls row by APICallID. Cache-related fields differ per provider;
// whichever the codec didn't observe are left zero.
type TokenUsageModel struct {
	ID                    uint   `gorm:"primaryKey;autoIncrement"`
	APICallID             uint   `gorm:"index"`
	SessionID             string `gorm:"size:64;index"`
	PromptTokens          int
	CompletionTokens      int
	TotalTokens           int
	CachedTokens          int
	PromptCacheHitTokens  int
	PromptCacheMissTokens int
	CreatedAt             time.Time
}

func (TokenUsageModel) TableName() string { return "token_usage" }
