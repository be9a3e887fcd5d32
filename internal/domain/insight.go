package domain

import (
	"time"

	"github.com/google/uuid"
)

type InsightType string

const (
	InsightInfo    InsightType = "info"
	InsightWarning InsightType = "warning"
	InsightError   InsightType = "error"
	InsightSuccess InsightType = "success"
)

// ActionableThreshold relevance выше порога делает инсайт actionable
const ActionableThreshold = 0.7

// Insight наблюдение агента о своем домене, не привязано к конкретному Request
type Insight struct {
	ID         string                 `json:"id"`
	AgentID    AgentID                `json:"agent_id"`
	Type       InsightType            `json:"type"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Relevance  float64                `json:"relevance"`
	Actionable bool                   `json:"actionable"`
	Data       map[string]interface{} `json:"data,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// NewInsight зажимает relevance в [0,1] и вычисляет Actionable
func NewInsight(agent AgentID, typ InsightType, title, message string, relevance float64, data map[string]interface{}) Insight {
	if relevance < 0 {
		relevance = 0
	}
	if relevance > 1 {
		relevance = 1
	}
	return Insight{
		ID:         uuid.New().String(),
		AgentID:    agent,
		Type:       typ,
		Title:      title,
		Message:    message,
		Relevance:  relevance,
		Actionable: relevance > ActionableThreshold,
		Data:       data,
		CreatedAt:  time.Now(),
	}
}
