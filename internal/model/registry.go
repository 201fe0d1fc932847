package model

import "time"

// Deployment is the model currently serving forecasts for one symbol.
type Deployment struct {
	Symbol     string      `json:"symbol"`
	Model      string      `json:"model"`
	MAPE       float64     `json:"mape"`
	RunID      string      `json:"run_id"`
	DeployedAt time.Time   `json:"deployed_at"`
	History    []Promotion `json:"history"`
}

// Promotion records one change of the deployed model.
type Promotion struct {
	From           string    `json:"from"`
	To             string    `json:"to"`
	ImprovementPct float64   `json:"improvement_pct"`
	RunID          string    `json:"run_id"`
	At             time.Time `json:"at"`
}

// RegistryState is the persisted deployment state of all symbols.
type RegistryState struct {
	Deployments map[string]*Deployment `json:"deployments"`
	UpdatedAt   time.Time              `json:"updated_at"`
}
