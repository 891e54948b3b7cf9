package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"dexHistory/internal/model"
)

// ContractCaller performs eth_call. *chain.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenFetcher loads ERC20 metadata for newly seen tokens.
type TokenFetcher struct {
	caller ContractCaller
	logger *zap.Logger
}

func NewTokenFetcher(caller ContractCaller, logger *zap.Logger) *TokenFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenFetcher{caller: caller, logger: logger}
}

// FetchToken reads decimals, name and symbol at the given block, falling back
// to the latest state when the node cannot serve historical calls. Decimals
// are required; name and symbol are best effort.
func (f *TokenFetcher) FetchToken(ctx context.Context, token common.Address, blockHeight uint64) (model.Token, error) {
	meta := model.Token{Address: model.NormalizeAddress(token.Hex()), BlockHeight: blockHeight}
	if f.caller == nil {
		return meta, fmt.Errorf("contract caller is nil")
	}

	stringABI, err := erc20ABI.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 abi: %w", err)
	}
	bytes32ABI, err := erc20Bytes32ABI.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	var block *big.Int
	if blockHeight > 0 {
		block = new(big.Int).SetUint64(blockHeight)
	}

	values, err := f.call(ctx, token, stringABI, "decimals", block)
	if err != nil && block != nil {
		f.logger.Debug("historical decimals call failed, using latest", zap.String("token", meta.Address), zap.Error(err))
		block = nil
		values, err = f.call(ctx, token, stringABI, "decimals", nil)
	}
	if err != nil {
		return meta, err
	}
	if meta.Decimals, err = asUint8(values[0]); err != nil {
		return meta, fmt.Errorf("decimals: %w", err)
	}

	meta.Symbol = f.text(ctx, token, stringABI, bytes32ABI, "symbol", block)
	meta.Name = f.text(ctx, token, stringABI, bytes32ABI, "name", block)
	return meta, nil
}

func (f *TokenFetcher) text(ctx context.Context, token common.Address, stringABI, bytes32ABI abi.ABI, method string, block *big.Int) string {
	if values, err := f.call(ctx, token, stringABI, method, block); err == nil {
		if s, ok := values[0].(string); ok {
			return s
		}
	}
	values, err := f.call(ctx, token, bytes32ABI, method, block)
	if err != nil {
		f.logger.Debug("token metadata call failed", zap.String("token", token.Hex()), zap.String("method", method), zap.Error(err))
		return ""
	}
	s, _ := bytes32ToString(values[0])
	return s
}

func (f *TokenFetcher) call(ctx context.Context, token common.Address, parsed abi.ABI, method string, block *big.Int) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned nothing", method)
	}
	return values, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("decimals out of range: %s", v)
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
