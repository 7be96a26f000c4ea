package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Registry answers whether an address holds a voter registration.
type Registry interface {
	IsRegistered(ctx context.Context, voter string, block uint64) (bool, error)
}

// VoterRegister checks registrations with the register's balanceOf.
type VoterRegister struct {
	backend Backend
	address common.Address
}

func NewVoterRegister(backend Backend, address string) *VoterRegister {
	return &VoterRegister{backend: backend, address: common.HexToAddress(address)}
}

// IsRegistered reports a positive register balance at block (0 = latest).
func (r *VoterRegister) IsRegistered(ctx context.Context, voter string, block uint64) (bool, error) {
	if !common.IsHexAddress(voter) {
		return false, fmt.Errorf("invalid voter address %q", voter)
	}
	input, err := registerABI.Pack("balanceOf", common.HexToAddress(voter))
	if err != nil {
		return false, err
	}
	var at *big.Int
	if block > 0 {
		at = new(big.Int).SetUint64(block)
	}
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: input}, at)
	if err != nil {
		return false, unavailable("balanceOf", err)
	}
	values, err := registerABI.Unpack("balanceOf", out)
	if err != nil {
		return false, fmt.Errorf("decode balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return false, fmt.Errorf("decode balanceOf: unexpected type %T", values[0])
	}
	return balance.Sign() > 0, nil
}

// OpenRegistry admits every address, for rounds without a voter register.
type OpenRegistry struct{}

func (OpenRegistry) IsRegistered(context.Context, string, uint64) (bool, error) {
	return true, nil
}
