package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client wraps go-ethereum RPC and provides helper methods.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	chainID *big.Int
	signer  types.Signer
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	ethClient := ethclient.NewClient(rpcClient)

	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("get chain id: %w", err)
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethClient,
		chainID:   chainID,
		signer:    types.LatestSignerForChainID(chainID),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID read at dial time.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// HeaderByNumber returns the block header by number.
func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	return c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
}

// FilterLogs returns logs in the given range for addresses and topic0 filters.
// An empty address list matches every contract.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}
	return c.ethClient.FilterLogs(ctx, query)
}

// TransactionSender recovers the address that signed a transaction.
func (c *Client) TransactionSender(ctx context.Context, txHash common.Hash) (common.Address, error) {
	tx, _, err := c.ethClient.TransactionByHash(ctx, txHash)
	if err != nil {
		return common.Address{}, fmt.Errorf("get transaction %s: %w", txHash.Hex(), err)
	}
	sender, err := types.Sender(c.signer, tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover sender of %s: %w", txHash.Hex(), err)
	}
	return sender, nil
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}
