package registry

import (
	"fmt"
	"maps"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"rfqScope/internal/statesync"
)

// State is the registry snapshot. Values are shared between snapshots:
// reducers clone the maps they touch and replace slices instead of
// appending in place.
type State struct {
	StakerServerURLs  map[common.Address]string
	ProtocolsByStaker map[common.Address][]ProtocolID
	StakersByProtocol map[ProtocolID][]common.Address
	TokensByStaker    map[common.Address][]common.Address
	StakersByToken    map[common.Address][]common.Address
}

// EmptyState returns the snapshot before the registry was deployed.
func EmptyState() State {
	return State{
		StakerServerURLs:  map[common.Address]string{},
		ProtocolsByStaker: map[common.Address][]ProtocolID{},
		StakersByProtocol: map[ProtocolID][]common.Address{},
		TokensByStaker:    map[common.Address][]common.Address{},
		StakersByToken:    map[common.Address][]common.Address{},
	}
}

// Handlers is the registry dispatch table.
func Handlers() statesync.Handlers[State, Kind] {
	return statesync.Handlers[State, Kind]{
		KindSetServerURL:    handleSetServerURL,
		KindAddProtocols:    handleAddProtocols,
		KindRemoveProtocols: handleRemoveProtocols,
		KindAddTokens:       handleAddTokens,
		KindRemoveTokens:    handleRemoveTokens,
		KindUnsetServer:     handleUnsetServer,
	}
}

func handleSetServerURL(event statesync.Event[Kind], state State) (State, error) {
	args, ok := event.Args.(SetServerURLArgs)
	if !ok {
		return state, argsError(event)
	}
	if current, ok := state.StakerServerURLs[args.Staker]; ok && current == args.URL {
		return state, nil
	}
	next := state
	next.StakerServerURLs = maps.Clone(state.StakerServerURLs)
	next.StakerServerURLs[args.Staker] = args.URL
	return next, nil
}

func handleAddProtocols(event statesync.Event[Kind], state State) (State, error) {
	args, ok := event.Args.(ProtocolsArgs)
	if !ok {
		return state, argsError(event)
	}
	next := state
	next.ProtocolsByStaker = maps.Clone(state.ProtocolsByStaker)
	next.StakersByProtocol = maps.Clone(state.StakersByProtocol)
	for _, protocol := range args.Protocols {
		next.StakersByProtocol[protocol] = withItem(next.StakersByProtocol[protocol], args.Staker)
		next.ProtocolsByStaker[args.Staker] = withItem(next.ProtocolsByStaker[args.Staker], protocol)
	}
	return next, nil
}

func handleRemoveProtocols(event statesync.Event[Kind], state State) (State, error) {
	args, ok := event.Args.(ProtocolsArgs)
	if !ok {
		return state, argsError(event)
	}
	next := state
	next.ProtocolsByStaker = maps.Clone(state.ProtocolsByStaker)
	next.StakersByProtocol = maps.Clone(state.StakersByProtocol)
	for _, protocol := range args.Protocols {
		setOrDelete(next.StakersByProtocol, protocol, withoutItem(next.StakersByProtocol[protocol], args.Staker))
		setOrDelete(next.ProtocolsByStaker, args.Staker, withoutItem(next.ProtocolsByStaker[args.Staker], protocol))
	}
	return next, nil
}

func handleAddTokens(event statesync.Event[Kind], state State) (State, error) {
	args, ok := event.Args.(TokensArgs)
	if !ok {
		return state, argsError(event)
	}
	next := state
	next.TokensByStaker = maps.Clone(state.TokensByStaker)
	next.StakersByToken = maps.Clone(state.StakersByToken)
	for _, token := range args.Tokens {
		next.StakersByToken[token] = withItem(next.StakersByToken[token], args.Staker)
		next.TokensByStaker[args.Staker] = withItem(next.TokensByStaker[args.Staker], token)
	}
	return next, nil
}

func handleRemoveTokens(event statesync.Event[Kind], state State) (State, error) {
	args, ok := event.Args.(TokensArgs)
	if !ok {
		return state, argsError(event)
	}
	next := state
	next.TokensByStaker = maps.Clone(state.TokensByStaker)
	next.StakersByToken = maps.Clone(state.StakersByToken)
	for _, token := range args.Tokens {
		setOrDelete(next.StakersByToken, token, withoutItem(next.StakersByToken[token], args.Staker))
		setOrDelete(next.TokensByStaker, args.Staker, withoutItem(next.TokensByStaker[args.Staker], token))
	}
	return next, nil
}

// handleUnsetServer drops every trace of the staker, including protocols and
// tokens the event does not list.
func handleUnsetServer(event statesync.Event[Kind], state State) (State, error) {
	args, ok := event.Args.(UnsetServerArgs)
	if !ok {
		return state, argsError(event)
	}
	next := state
	next.StakerServerURLs = maps.Clone(state.StakerServerURLs)
	delete(next.StakerServerURLs, args.Staker)

	protocols := append(slices.Clone(state.ProtocolsByStaker[args.Staker]), args.Protocols...)
	next.ProtocolsByStaker = maps.Clone(state.ProtocolsByStaker)
	next.StakersByProtocol = maps.Clone(state.StakersByProtocol)
	delete(next.ProtocolsByStaker, args.Staker)
	for _, protocol := range protocols {
		setOrDelete(next.StakersByProtocol, protocol, withoutItem(next.StakersByProtocol[protocol], args.Staker))
	}

	tokens := append(slices.Clone(state.TokensByStaker[args.Staker]), args.Tokens...)
	next.TokensByStaker = maps.Clone(state.TokensByStaker)
	next.StakersByToken = maps.Clone(state.StakersByToken)
	delete(next.TokensByStaker, args.Staker)
	for _, token := range tokens {
		setOrDelete(next.StakersByToken, token, withoutItem(next.StakersByToken[token], args.Staker))
	}
	return next, nil
}

// Validate checks that the forward and reverse indexes agree.
func Validate(state State) error {
	for staker, protocols := range state.ProtocolsByStaker {
		for _, protocol := range protocols {
			if !slices.Contains(state.StakersByProtocol[protocol], staker) {
				return fmt.Errorf("staker %s lists protocol %s without reverse entry: %w", staker.Hex(), protocol, statesync.ErrInconsistent)
			}
		}
	}
	for protocol, stakers := range state.StakersByProtocol {
		for _, staker := range stakers {
			if !slices.Contains(state.ProtocolsByStaker[staker], protocol) {
				return fmt.Errorf("protocol %s lists staker %s without reverse entry: %w", protocol, staker.Hex(), statesync.ErrInconsistent)
			}
		}
	}
	for staker, tokens := range state.TokensByStaker {
		for _, token := range tokens {
			if !slices.Contains(state.StakersByToken[token], staker) {
				return fmt.Errorf("staker %s lists token %s without reverse entry: %w", staker.Hex(), token.Hex(), statesync.ErrInconsistent)
			}
		}
	}
	for token, stakers := range state.StakersByToken {
		for _, staker := range stakers {
			if !slices.Contains(state.TokensByStaker[staker], token) {
				return fmt.Errorf("token %s lists staker %s without reverse entry: %w", token.Hex(), staker.Hex(), statesync.ErrInconsistent)
			}
		}
	}
	return nil
}

// ServerURLs returns the URLs of stakers supporting protocol, in registration
// order. Non-nil tokens further require the staker to list each token.
func (s State) ServerURLs(protocol ProtocolID, tokenOne, tokenTwo *common.Address) []string {
	var urls []string
	for _, staker := range s.StakersByProtocol[protocol] {
		if tokenOne != nil && !slices.Contains(s.StakersByToken[*tokenOne], staker) {
			continue
		}
		if tokenTwo != nil && !slices.Contains(s.StakersByToken[*tokenTwo], staker) {
			continue
		}
		url := s.StakerServerURLs[staker]
		if url == "" {
			continue
		}
		urls = append(urls, url)
	}
	return urls
}

func argsError(event statesync.Event[Kind]) error {
	return fmt.Errorf("%s: unexpected args %T: %w", event.Kind, event.Args, statesync.ErrInconsistent)
}

// withItem returns a new slice with item appended unless already present.
func withItem[T comparable](items []T, item T) []T {
	if slices.Contains(items, item) {
		return items
	}
	out := make([]T, 0, len(items)+1)
	out = append(out, items...)
	return append(out, item)
}

// withoutItem returns a new slice without item.
func withoutItem[T comparable](items []T, item T) []T {
	idx := slices.Index(items, item)
	if idx < 0 {
		return items
	}
	out := make([]T, 0, len(items)-1)
	out = append(out, items[:idx]...)
	return append(out, items[idx+1:]...)
}

func setOrDelete[K comparable, V any](m map[K][]V, key K, values []V) {
	if len(values) == 0 {
		delete(m, key)
		return
	}
	m[key] = values
}
