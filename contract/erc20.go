package contract

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const erc20JSONABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

var ERC20ABI = MustReadABI(erc20JSONABI)

var (
	ErrNotTransferCall = errors.New("calldata is not an erc20 transfer")
	ErrNotTransferLog  = errors.New("log is not an erc20 transfer")
)

func MustReadABI(s string) abi.ABI {
	res, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return res
}

type TransferLog struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
}

// ParseTransferLog decodes an ERC20 Transfer log.
func ParseTransferLog(log *types.Log) (*TransferLog, error) {
	name, values, err := ParseLog(ERC20ABI, log)
	if err != nil {
		return nil, err
	}
	if name != "Transfer" {
		return nil, ErrNotTransferLog
	}
	from, ok1 := values["from"].(common.Address)
	to, ok2 := values["to"].(common.Address)
	value, ok3 := values["value"].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("%w: unexpected argument types", ErrNotTransferLog)
	}
	return &TransferLog{Token: log.Address, From: from, To: to, Value: value}, nil
}

// TransferCall is a decoded transfer(address,uint256) call. Memo holds any
// bytes appended after the abi encoded arguments.
type TransferCall struct {
	To    common.Address
	Value *big.Int
	Memo  []byte
}

func PackTransfer(to common.Address, value *big.Int, memo []byte) ([]byte, error) {
	data, err := ERC20ABI.Pack("transfer", to, value)
	if err != nil {
		return nil, fmt.Errorf("can't pack transfer call: %w", err)
	}
	return append(data, memo...), nil
}

func ParseTransferCall(data []byte) (*TransferCall, error) {
	method := ERC20ABI.Methods["transfer"]
	argsLen := 32 * len(method.Inputs)
	if len(data) < 4+argsLen || !bytes.Equal(data[:4], method.ID) {
		return nil, ErrNotTransferCall
	}
	values, err := method.Inputs.Unpack(data[4 : 4+argsLen])
	if err != nil {
		return nil, fmt.Errorf("can't unpack transfer arguments: %w", err)
	}
	to, ok1 := values[0].(common.Address)
	value, ok2 := values[1].(*big.Int)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: unexpected argument types", ErrNotTransferCall)
	}
	return &TransferCall{To: to, Value: value, Memo: append([]byte(nil), data[4+argsLen:]...)}, nil
}
