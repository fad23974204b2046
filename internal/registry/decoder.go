package registry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"rfqScope/internal/statesync"
)

// Decoder decodes registry contract logs into typed events.
type Decoder struct {
	registryABI abi.ABI
	topicToKind map[common.Hash]Kind
}

// NewDecoder builds a registry decoder.
func NewDecoder() (*Decoder, error) {
	registryABI, err := ABI()
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}

	topicToKind := make(map[common.Hash]Kind, len(kindNames))
	for kind, name := range kindNames {
		event, ok := registryABI.Events[name]
		if !ok {
			return nil, fmt.Errorf("registry abi missing event %s", name)
		}
		topicToKind[event.ID] = kind
	}

	return &Decoder{
		registryABI: registryABI,
		topicToKind: topicToKind,
	}, nil
}

// CanDecode checks if the topic0 is a registry event.
func (d *Decoder) CanDecode(topic0 common.Hash) bool {
	_, ok := d.topicToKind[topic0]
	return ok
}

// Decode converts a log into a registry event.
func (d *Decoder) Decode(log types.Log) (statesync.Event[Kind], error) {
	if len(log.Topics) == 0 {
		return statesync.Event[Kind]{}, fmt.Errorf("missing topics: %w", statesync.ErrUnknownEvent)
	}
	kind, ok := d.topicToKind[log.Topics[0]]
	if !ok {
		return statesync.Event[Kind]{}, fmt.Errorf("topic0 %s: %w", log.Topics[0].Hex(), statesync.ErrUnknownEvent)
	}

	event := d.registryABI.Events[kind.String()]
	staker, err := parseStaker(event, log.Topics)
	if err != nil {
		return statesync.Event[Kind]{}, fmt.Errorf("decode %s: %w", kind, err)
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return statesync.Event[Kind]{}, err
	}

	var args any
	switch kind {
	case KindSetServerURL:
		args, err = decodeSetServerURL(staker, values)
	case KindAddProtocols, KindRemoveProtocols:
		args, err = decodeProtocols(staker, values)
	case KindAddTokens, KindRemoveTokens:
		args, err = decodeTokens(staker, values)
	case KindUnsetServer:
		args, err = decodeUnsetServer(staker, values)
	default:
		err = fmt.Errorf("unsupported event kind: %s", kind)
	}
	if err != nil {
		return statesync.Event[Kind]{}, fmt.Errorf("decode %s: %w", kind, err)
	}

	return statesync.Event[Kind]{Kind: kind, Args: args, Log: log}, nil
}

func decodeSetServerURL(staker common.Address, values []interface{}) (SetServerURLArgs, error) {
	if len(values) != 1 {
		return SetServerURLArgs{}, fmt.Errorf("unexpected values: %d", len(values))
	}
	url, ok := values[0].(string)
	if !ok {
		return SetServerURLArgs{}, fmt.Errorf("unexpected url type %T", values[0])
	}
	return SetServerURLArgs{Staker: staker, URL: url}, nil
}

func decodeProtocols(staker common.Address, values []interface{}) (ProtocolsArgs, error) {
	if len(values) != 1 {
		return ProtocolsArgs{}, fmt.Errorf("unexpected values: %d", len(values))
	}
	protocols, err := asProtocols(values[0])
	if err != nil {
		return ProtocolsArgs{}, err
	}
	return ProtocolsArgs{Staker: staker, Protocols: protocols}, nil
}

func decodeTokens(staker common.Address, values []interface{}) (TokensArgs, error) {
	if len(values) != 1 {
		return TokensArgs{}, fmt.Errorf("unexpected values: %d", len(values))
	}
	tokens, err := asAddresses(values[0])
	if err != nil {
		return TokensArgs{}, err
	}
	return TokensArgs{Staker: staker, Tokens: tokens}, nil
}

func decodeUnsetServer(staker common.Address, values []interface{}) (UnsetServerArgs, error) {
	if len(values) != 3 {
		return UnsetServerArgs{}, fmt.Errorf("unexpected values: %d", len(values))
	}
	url, ok := values[0].(string)
	if !ok {
		return UnsetServerArgs{}, fmt.Errorf("unexpected url type %T", values[0])
	}
	protocols, err := asProtocols(values[1])
	if err != nil {
		return UnsetServerArgs{}, err
	}
	tokens, err := asAddresses(values[2])
	if err != nil {
		return UnsetServerArgs{}, err
	}
	return UnsetServerArgs{Staker: staker, URL: url, Protocols: protocols, Tokens: tokens}, nil
}

func parseStaker(event abi.Event, topics []common.Hash) (common.Address, error) {
	indexedArgs := indexedArguments(event.Inputs)
	if len(topics) != len(indexedArgs)+1 {
		return common.Address{}, fmt.Errorf("expected %d topics, got %d", len(indexedArgs)+1, len(topics))
	}

	var indexed struct {
		Staker common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArgs, topics[1:]); err != nil {
		return common.Address{}, fmt.Errorf("parse topics: %w", err)
	}
	return indexed.Staker, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, data []byte) ([]interface{}, error) {
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}

func asProtocols(value interface{}) ([]ProtocolID, error) {
	raw, ok := value.([][4]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected protocols type %T", value)
	}
	out := make([]ProtocolID, len(raw))
	for i, id := range raw {
		out[i] = ProtocolID(id)
	}
	return out, nil
}

func asAddresses(value interface{}) ([]common.Address, error) {
	raw, ok := value.([]common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected addresses type %T", value)
	}
	return raw, nil
}
