package dex

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"dexHistory/internal/model"
)

// ErrDecode marks malformed data for a recognized event signature.
var ErrDecode = errors.New("decode event")

// Kind discriminates the decoded event variants.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindPairCreated
	KindMint
	KindBurn
	KindSwap
	KindSync
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindPairCreated:
		return "PairCreated"
	case KindMint:
		return "Mint"
	case KindBurn:
		return "Burn"
	case KindSwap:
		return "Swap"
	case KindSync:
		return "Sync"
	case KindTransfer:
		return "Transfer"
	default:
		return "Empty"
	}
}

// IsPairEvent reports whether the kind is emitted by pair contracts.
func (k Kind) IsPairEvent() bool {
	return k >= KindMint && k <= KindTransfer
}

// Args is the decoded payload of one event kind.
type Args interface {
	Kind() Kind
}

// PairCreatedArgs is emitted by the factory when a pool is deployed.
type PairCreatedArgs struct {
	Token1 common.Address `json:"token1"`
	Token2 common.Address `json:"token2"`
	Pair   common.Address `json:"pair"`
	Index  *big.Int       `json:"index"`
}

type MintArgs struct {
	Sender  common.Address `json:"sender"`
	Amount1 *big.Int       `json:"amount1"`
	Amount2 *big.Int       `json:"amount2"`
}

type BurnArgs struct {
	Sender  common.Address `json:"sender"`
	Amount1 *big.Int       `json:"amount1"`
	Amount2 *big.Int       `json:"amount2"`
	To      common.Address `json:"to"`
}

type SwapArgs struct {
	Sender     common.Address `json:"sender"`
	AmountIn1  *big.Int       `json:"amount_in1"`
	AmountIn2  *big.Int       `json:"amount_in2"`
	AmountOut1 *big.Int       `json:"amount_out1"`
	AmountOut2 *big.Int       `json:"amount_out2"`
	To         common.Address `json:"to"`
}

type SyncArgs struct {
	Reserve1 *big.Int `json:"reserve1"`
	Reserve2 *big.Int `json:"reserve2"`
}

type TransferArgs struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
}

func (PairCreatedArgs) Kind() Kind { return KindPairCreated }
func (MintArgs) Kind() Kind        { return KindMint }
func (BurnArgs) Kind() Kind        { return KindBurn }
func (SwapArgs) Kind() Kind        { return KindSwap }
func (SyncArgs) Kind() Kind        { return KindSync }
func (TransferArgs) Kind() Kind    { return KindTransfer }

// Event is a classified and decoded log.
type Event struct {
	Kind Kind
	Log  model.LogRecord
	Args Args
}

// Decoder classifies logs by topic0 and decodes pair and factory events.
type Decoder struct {
	pair    abi.ABI
	factory abi.ABI

	factoryAddress common.Address
	pairCreated    string
	pairTopics     map[string]Kind
}

// NewDecoder builds a decoder that accepts PairCreated only from factory.
func NewDecoder(factory common.Address) (*Decoder, error) {
	pair, err := PairABI()
	if err != nil {
		return nil, fmt.Errorf("parse pair abi: %w", err)
	}
	fac, err := FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}

	pairTopics := make(map[string]Kind, 5)
	for name, kind := range map[string]Kind{
		"Mint":     KindMint,
		"Burn":     KindBurn,
		"Swap":     KindSwap,
		"Sync":     KindSync,
		"Transfer": KindTransfer,
	} {
		pairTopics[pair.Events[name].ID.Hex()] = kind
	}

	return &Decoder{
		pair:           pair,
		factory:        fac,
		factoryAddress: factory,
		pairCreated:    fac.Events["PairCreated"].ID.Hex(),
		pairTopics:     pairTopics,
	}, nil
}

// Topics returns every topic0 the decoder understands, for log filters.
func (d *Decoder) Topics() []common.Hash {
	topics := []common.Hash{common.HexToHash(d.pairCreated)}
	for _, name := range []string{"Mint", "Burn", "Swap", "Sync", "Transfer"} {
		topics = append(topics, d.pair.Events[name].ID)
	}
	return topics
}

// Classify selects the event kind from topic0 without decoding.
func (d *Decoder) Classify(log model.LogRecord) Kind {
	topic0 := log.Topic0()
	if topic0 == "" {
		return KindEmpty
	}
	if topic0 == d.pairCreated {
		if common.IsHexAddress(log.Address) && common.HexToAddress(log.Address) == d.factoryAddress {
			return KindPairCreated
		}
		return KindEmpty
	}
	if kind, ok := d.pairTopics[topic0]; ok {
		return kind
	}
	return KindEmpty
}

// Decode classifies and decodes a log. Empty logs decode to an Event with
// nil Args. Any failure for a recognized kind wraps ErrDecode.
func (d *Decoder) Decode(log model.LogRecord) (Event, error) {
	kind := d.Classify(log)
	event := Event{Kind: kind, Log: log}

	var (
		args Args
		err  error
	)
	switch kind {
	case KindEmpty:
		return event, nil
	case KindPairCreated:
		args, err = d.decodePairCreated(log)
	case KindMint:
		args, err = d.decodeMint(log)
	case KindBurn:
		args, err = d.decodeBurn(log)
	case KindSwap:
		args, err = d.decodeSwap(log)
	case KindSync:
		args, err = d.decodeSync(log)
	case KindTransfer:
		args, err = d.decodeTransfer(log)
	}
	if err != nil {
		return Event{}, fmt.Errorf("%w %s at %s: %w", ErrDecode, kind, log.EventID(), err)
	}
	event.Args = args
	return event, nil
}

func (d *Decoder) decodePairCreated(log model.LogRecord) (Args, error) {
	event := d.factory.Events["PairCreated"]
	var indexed struct {
		Token0 common.Address
		Token1 common.Address
	}
	if err := parseIndexed(event, log.Topics, &indexed); err != nil {
		return nil, err
	}
	values, err := unpackNonIndexed(event, log.Data, 2)
	if err != nil {
		return nil, err
	}
	pair, err := asAddress(values[0])
	if err != nil {
		return nil, err
	}
	index, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}
	return PairCreatedArgs{Token1: indexed.Token0, Token2: indexed.Token1, Pair: pair, Index: index}, nil
}

func (d *Decoder) decodeMint(log model.LogRecord) (Args, error) {
	event := d.pair.Events["Mint"]
	var indexed struct {
		Sender common.Address
	}
	if err := parseIndexed(event, log.Topics, &indexed); err != nil {
		return nil, err
	}
	amounts, err := unpackAmounts(event, log.Data, 2)
	if err != nil {
		return nil, err
	}
	return MintArgs{Sender: indexed.Sender, Amount1: amounts[0], Amount2: amounts[1]}, nil
}

func (d *Decoder) decodeBurn(log model.LogRecord) (Args, error) {
	event := d.pair.Events["Burn"]
	var indexed struct {
		Sender common.Address
		To     common.Address
	}
	if err := parseIndexed(event, log.Topics, &indexed); err != nil {
		return nil, err
	}
	amounts, err := unpackAmounts(event, log.Data, 2)
	if err != nil {
		return nil, err
	}
	return BurnArgs{Sender: indexed.Sender, Amount1: amounts[0], Amount2: amounts[1], To: indexed.To}, nil
}

func (d *Decoder) decodeSwap(log model.LogRecord) (Args, error) {
	event := d.pair.Events["Swap"]
	var indexed struct {
		Sender common.Address
		To     common.Address
	}
	if err := parseIndexed(event, log.Topics, &indexed); err != nil {
		return nil, err
	}
	amounts, err := unpackAmounts(event, log.Data, 4)
	if err != nil {
		return nil, err
	}
	return SwapArgs{
		Sender:     indexed.Sender,
		AmountIn1:  amounts[0],
		AmountIn2:  amounts[1],
		AmountOut1: amounts[2],
		AmountOut2: amounts[3],
		To:         indexed.To,
	}, nil
}

func (d *Decoder) decodeSync(log model.LogRecord) (Args, error) {
	event := d.pair.Events["Sync"]
	if len(log.Topics) != 1 {
		return nil, fmt.Errorf("expected 1 topic, got %d", len(log.Topics))
	}
	reserves, err := unpackAmounts(event, log.Data, 2)
	if err != nil {
		return nil, err
	}
	return SyncArgs{Reserve1: reserves[0], Reserve2: reserves[1]}, nil
}

func (d *Decoder) decodeTransfer(log model.LogRecord) (Args, error) {
	event := d.pair.Events["Transfer"]
	var indexed struct {
		From common.Address
		To   common.Address
	}
	if err := parseIndexed(event, log.Topics, &indexed); err != nil {
		return nil, err
	}
	amounts, err := unpackAmounts(event, log.Data, 1)
	if err != nil {
		return nil, err
	}
	return TransferArgs{From: indexed.From, To: indexed.To, Value: amounts[0]}, nil
}

func parseIndexed(event abi.Event, topics []string, out interface{}) error {
	args := indexedArguments(event.Inputs)
	if len(topics) != len(args)+1 {
		return fmt.Errorf("expected %d topics, got %d", len(args)+1, len(topics))
	}
	hashes, err := parseTopicHashes(topics[1:])
	if err != nil {
		return err
	}
	if err := abi.ParseTopics(out, args, hashes); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	return nil
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) != common.HashLength {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
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

func unpackNonIndexed(event abi.Event, dataHex string, want int) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) != want {
		return nil, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
	}
	return values, nil
}

func unpackAmounts(event abi.Event, dataHex string, want int) ([]*big.Int, error) {
	values, err := unpackNonIndexed(event, dataHex, want)
	if err != nil {
		return nil, err
	}
	out := make([]*big.Int, len(values))
	for i, value := range values {
		if out[i], err = asBigInt(value); err != nil {
			return nil, err
		}
	}
	return out, nil
}
