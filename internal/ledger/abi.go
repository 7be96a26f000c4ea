package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const qvStrategyABI = `[
	{"anonymous":false,"name":"Voted","type":"event","inputs":[
		{"indexed":true,"name":"voter","type":"address"},
		{"indexed":false,"name":"grantID","type":"bytes32"},
		{"indexed":false,"name":"voteCredits","type":"uint256"},
		{"indexed":false,"name":"votes","type":"uint256"}]}
]`

const qvFactoryABI = `[
	{"anonymous":false,"name":"QVCreated","type":"event","inputs":[
		{"indexed":true,"name":"qvAddress","type":"address"},
		{"indexed":true,"name":"ownedBy","type":"address"}]},
	{"anonymous":false,"name":"QVContractUpdated","type":"event","inputs":[
		{"indexed":false,"name":"qvContractAddress","type":"address"}]}
]`

const voterRegisterABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

const merklePayoutABI = `[
	{"name":"updateDistribution","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"encodedDistribution","type":"bytes"}],"outputs":[]},
	{"name":"setReadyForPayout","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"name":"isReadyForPayout","type":"function","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"merkleRoot","type":"function","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"name":"distributionMetaPtr","type":"function","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"protocol","type":"uint256"},{"name":"pointer","type":"string"}]}
]`

var (
	strategyABI = mustParse(qvStrategyABI)
	factoryABI  = mustParse(qvFactoryABI)
	registerABI = mustParse(voterRegisterABI)
	payoutABI   = mustParse(merklePayoutABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// StrategyABI returns the parsed QV strategy events.
func StrategyABI() abi.ABI { return strategyABI }

// FactoryABI returns the parsed QV factory events.
func FactoryABI() abi.ABI { return factoryABI }

// VoterRegisterABI returns the parsed voter register interface.
func VoterRegisterABI() abi.ABI { return registerABI }
