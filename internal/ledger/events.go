package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event names emitted by the QV contracts.
const (
	EventVoted             = "Voted"
	EventQVCreated         = "QVCreated"
	EventQVContractUpdated = "QVContractUpdated"
)

// VoteEvent is a decoded Voted log.
type VoteEvent struct {
	Voter       common.Address
	GrantID     common.Hash
	Credits     uint64
	Votes       *big.Int
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// FactoryEvent is a decoded QVCreated or QVContractUpdated log.
type FactoryEvent struct {
	Name        string
	Factory     common.Address
	Address     common.Address
	Owner       common.Address
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// VotedTopic is the topic0 of Voted logs.
func VotedTopic() common.Hash {
	return strategyABI.Events[EventVoted].ID
}

// FactoryTopics are the topic0 values of the factory events.
func FactoryTopics() []common.Hash {
	return []common.Hash{factoryABI.Events[EventQVCreated].ID, factoryABI.Events[EventQVContractUpdated].ID}
}

func unpackLog(contract abi.ABI, name string, lg types.Log) (map[string]interface{}, error) {
	ev, ok := contract.Events[name]
	if !ok {
		return nil, fmt.Errorf("unknown event %s", name)
	}
	if len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
		return nil, fmt.Errorf("log is not a %s event", name)
	}
	values := make(map[string]interface{})
	if len(lg.Data) > 0 {
		if err := contract.UnpackIntoMap(values, name, lg.Data); err != nil {
			return nil, fmt.Errorf("unpack %s data: %w", name, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parse %s topics: %w", name, err)
	}
	return values, nil
}

// DecodeVoted decodes a Voted log.
func DecodeVoted(lg types.Log) (VoteEvent, error) {
	values, err := unpackLog(strategyABI, EventVoted, lg)
	if err != nil {
		return VoteEvent{}, err
	}
	voter, ok := values["voter"].(common.Address)
	if !ok {
		return VoteEvent{}, fmt.Errorf("voted log: unexpected voter type %T", values["voter"])
	}
	grant, ok := values["grantID"].([32]byte)
	if !ok {
		return VoteEvent{}, fmt.Errorf("voted log: unexpected grantID type %T", values["grantID"])
	}
	credits, ok := values["voteCredits"].(*big.Int)
	if !ok || !credits.IsUint64() {
		return VoteEvent{}, fmt.Errorf("voted log: voteCredits out of range")
	}
	votes, _ := values["votes"].(*big.Int)
	return VoteEvent{
		Voter:       voter,
		GrantID:     common.Hash(grant),
		Credits:     credits.Uint64(),
		Votes:       votes,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
	}, nil
}

// DecodeFactory decodes QVCreated and QVContractUpdated logs.
func DecodeFactory(lg types.Log) (FactoryEvent, error) {
	if len(lg.Topics) == 0 {
		return FactoryEvent{}, fmt.Errorf("factory log without topics")
	}
	out := FactoryEvent{
		Factory:     lg.Address,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
	}
	switch lg.Topics[0] {
	case factoryABI.Events[EventQVCreated].ID:
		values, err := unpackLog(factoryABI, EventQVCreated, lg)
		if err != nil {
			return FactoryEvent{}, err
		}
		out.Name = EventQVCreated
		out.Address, _ = values["qvAddress"].(common.Address)
		out.Owner, _ = values["ownedBy"].(common.Address)
	case factoryABI.Events[EventQVContractUpdated].ID:
		values, err := unpackLog(factoryABI, EventQVContractUpdated, lg)
		if err != nil {
			return FactoryEvent{}, err
		}
		out.Name = EventQVContractUpdated
		out.Address, _ = values["qvContractAddress"].(common.Address)
	default:
		return FactoryEvent{}, fmt.Errorf("unknown factory event %s", lg.Topics[0].Hex())
	}
	return out, nil
}
