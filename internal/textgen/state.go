package textgen

import (
	"context"
	"errors"
	"fmt"
)

// StateKind is the registry key for persisted adapter state.
const StateKind = "textgen.adapter"

// State is the persistable part of an adapter: model identifier, base
// parameters and execution options. The live client handle is a
// connection, not data, and is deliberately excluded.
type State struct {
	ModelID    string     `json:"model_id"`
	Parameters Parameters `json:"parameters"`
	Options    Options    `json:"options"`
}

// Kind implements the snapshot registry contract.
func (State) Kind() string { return StateKind }

// State captures the adapter's persistable fields.
func (a *Adapter) State() State {
	return State{ModelID: a.modelID, Parameters: a.params.clone(), Options: a.opts}
}

// Restore rebuilds an adapter from persisted state. The provider must
// supply a fresh client; restoration never yields a nil client handle.
func Restore(ctx context.Context, state State, provider ClientProvider) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("restore adapter: client provider required")
	}
	client, err := provider(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore adapter: rebuild client: %w", err)
	}
	if client == nil {
		return nil, errors.New("restore adapter: provider returned nil client")
	}
	return New(state.ModelID, state.Parameters, state.Options, client)
}
