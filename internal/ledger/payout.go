package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
)

// MetaPtr is the (protocol, pointer) pair a payout strategy stores.
type MetaPtr struct {
	Protocol uint64 `json:"protocol"`
	Pointer  string `json:"pointer"`
}

// PayoutStrategy is the on-chain side of finalization.
type PayoutStrategy interface {
	UpdateDistribution(ctx context.Context, root [32]byte, ptr MetaPtr) (string, error)
	Distribution(ctx context.Context) ([32]byte, MetaPtr, error)
	SetReadyForPayout(ctx context.Context) (string, error)
	IsReadyForPayout(ctx context.Context) (bool, error)
}

// MerklePayout talks to a merkle payout strategy contract.
type MerklePayout struct {
	backend  TxBackend
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	chainID  *big.Int
}

// NewMerklePayout binds the payout strategy at address. operatorKey is a hex
// private key; it may be empty for read-only use.
func NewMerklePayout(backend TxBackend, address, operatorKey string, chainID int64) (*MerklePayout, error) {
	p := &MerklePayout{
		backend:  backend,
		contract: bind.NewBoundContract(common.HexToAddress(address), payoutABI, backend, backend, backend),
		chainID:  big.NewInt(chainID),
	}
	if operatorKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse operator key: %w", err)
		}
		p.key = key
	}
	return p, nil
}

// EncodeDistribution packs abi.encode(bytes32 root, (uint256 protocol, string pointer)).
func EncodeDistribution(root [32]byte, ptr MetaPtr) ([]byte, error) {
	args, err := distributionArgs()
	if err != nil {
		return nil, err
	}
	return args.Pack(root, struct {
		Protocol *big.Int
		Pointer  string
	}{new(big.Int).SetUint64(ptr.Protocol), ptr.Pointer})
}

func distributionArgs() (abi.Arguments, error) {
	bytes32Ty, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		return nil, err
	}
	metaTy, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "protocol", Type: "uint256"},
		{Name: "pointer", Type: "string"},
	})
	if err != nil {
		return nil, err
	}
	return abi.Arguments{{Type: bytes32Ty}, {Type: metaTy}}, nil
}

func (p *MerklePayout) UpdateDistribution(ctx context.Context, root [32]byte, ptr MetaPtr) (string, error) {
	encoded, err := EncodeDistribution(root, ptr)
	if err != nil {
		return "", fmt.Errorf("encode distribution: %w", err)
	}
	return p.transact(ctx, "updateDistribution", encoded)
}

func (p *MerklePayout) SetReadyForPayout(ctx context.Context) (string, error) {
	return p.transact(ctx, "setReadyForPayout")
}

func (p *MerklePayout) IsReadyForPayout(ctx context.Context) (bool, error) {
	var out []interface{}
	if err := p.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isReadyForPayout"); err != nil {
		return false, unavailable("isReadyForPayout", err)
	}
	ready, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("decode isReadyForPayout: unexpected type %T", out[0])
	}
	return ready, nil
}

// Distribution returns the merkle root and metadata pointer currently stored.
func (p *MerklePayout) Distribution(ctx context.Context) ([32]byte, MetaPtr, error) {
	opts := &bind.CallOpts{Context: ctx}
	var rootOut []interface{}
	if err := p.contract.Call(opts, &rootOut, "merkleRoot"); err != nil {
		return [32]byte{}, MetaPtr{}, unavailable("merkleRoot", err)
	}
	var ptrOut []interface{}
	if err := p.contract.Call(opts, &ptrOut, "distributionMetaPtr"); err != nil {
		return [32]byte{}, MetaPtr{}, unavailable("distributionMetaPtr", err)
	}
	root, ok := rootOut[0].([32]byte)
	if !ok {
		return [32]byte{}, MetaPtr{}, fmt.Errorf("decode merkleRoot: unexpected type %T", rootOut[0])
	}
	protocol, ok := ptrOut[0].(*big.Int)
	if !ok {
		return [32]byte{}, MetaPtr{}, fmt.Errorf("decode distributionMetaPtr: unexpected type %T", ptrOut[0])
	}
	pointer, _ := ptrOut[1].(string)
	return root, MetaPtr{Protocol: protocol.Uint64(), Pointer: pointer}, nil
}

func (p *MerklePayout) transact(ctx context.Context, method string, params ...interface{}) (string, error) {
	if p.key == nil {
		return "", errors.New("operator key not configured")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(p.key, p.chainID)
	if err != nil {
		return "", fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx
	tx, err := p.contract.Transact(opts, method, params...)
	if err != nil {
		return "", transactError(method, err)
	}
	receipt, err := bind.WaitMined(ctx, p.backend, tx)
	if err != nil {
		return "", unavailable(method+" receipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash().Hex(), fmt.Errorf("%s %s: %w", method, tx.Hash().Hex(), ErrTxReverted)
	}
	return tx.Hash().Hex(), nil
}

// transactError maps a failed send. Gas estimation runs the call first, so a
// call the contract rejects fails here with "execution reverted".
func transactError(method string, err error) error {
	if errors.Is(err, vm.ErrExecutionReverted) || strings.Contains(err.Error(), vm.ErrExecutionReverted.Error()) {
		return fmt.Errorf("%s: %v: %w", method, err, ErrTxReverted)
	}
	return unavailable(method, err)
}
