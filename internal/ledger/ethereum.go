package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"newswave/internal/nw"
)

// newsRegistryABI is the interface of the deployed news registry contract.
const newsRegistryABI = `[
 {"anonymous":false,"inputs":[
   {"indexed":false,"name":"ipfsHash","type":"string"},
   {"indexed":false,"name":"title","type":"string"},
   {"indexed":false,"name":"timestamp","type":"uint256"},
   {"indexed":false,"name":"author","type":"address"}],
  "name":"NewsUploaded","type":"event"},
 {"inputs":[{"name":"_index","type":"uint256"}],"name":"getNews",
  "outputs":[{"name":"","type":"string"},{"name":"","type":"string"},{"name":"","type":"uint256"},{"name":"","type":"address"}],
  "stateMutability":"view","type":"function"},
 {"inputs":[],"name":"newsCount","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"name":"_ipfsHash","type":"string"},{"name":"_title","type":"string"}],"name":"uploadNews",
  "outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// ethBackend is what the ledger needs from a node connection.
// *ethclient.Client satisfies it.
type ethBackend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// EthereumLedger records publications in the news registry contract.
// Records are final once the append transaction is mined.
type EthereumLedger struct {
	backend      ethBackend
	contract     *bind.BoundContract
	parsed       abi.ABI
	address      common.Address
	chainID      *big.Int
	logger       nw.Logger
	pollInterval time.Duration
	closeFn      func()
}

// DialEthereumLedger connects to the node at rpcURL and binds the contract
// at contractAddr.
func DialEthereumLedger(ctx context.Context, rpcURL, contractAddr string, logger nw.Logger) (*EthereumLedger, error) {
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddr)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to ethereum node: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("reading chain id: %w", err)
	}
	l, err := NewEthereumLedger(client, common.HexToAddress(contractAddr), chainID, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	l.closeFn = client.Close
	return l, nil
}

// NewEthereumLedger binds the contract at address over backend.
func NewEthereumLedger(backend ethBackend, address common.Address, chainID *big.Int, logger nw.Logger) (*EthereumLedger, error) {
	parsed, err := abi.JSON(strings.NewReader(newsRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parsing contract abi: %w", err)
	}
	return &EthereumLedger{
		backend:      backend,
		contract:     bind.NewBoundContract(address, parsed, backend, backend, backend),
		parsed:       parsed,
		address:      address,
		chainID:      chainID,
		logger:       logger,
		pollInterval: 12 * time.Second,
	}, nil
}

// SetPollInterval changes how often Subscribe checks for new records.
func (e *EthereumLedger) SetPollInterval(d time.Duration) {
	if d > 0 {
		e.pollInterval = d
	}
}

// signerKey checks that signer can sign for the address it claims.
func signerKey(signer nw.Identity) error {
	if signer.Key == nil {
		return fmt.Errorf("identity %s has no signing key: %w", signer.Address, nw.ErrIdentityUnavailable)
	}
	derived := crypto.PubkeyToAddress(signer.Key.PublicKey)
	if !common.IsHexAddress(signer.Address) || common.HexToAddress(signer.Address) != derived {
		return fmt.Errorf("key address %s does not match identity %s: %w", derived.Hex(), signer.Address, nw.ErrIdentityUnavailable)
	}
	return nil
}

// Append submits uploadNews and waits until it is mined. A cancelled or
// expired ctx while waiting yields ErrSubmissionTimeout: the transaction may
// still be mined later.
func (e *EthereumLedger) Append(ctx context.Context, signer nw.Identity, contentRef, title string) (uint64, error) {
	if err := validateEntry(signer, contentRef, title); err != nil {
		return 0, err
	}
	if err := signerKey(signer); err != nil {
		return 0, err
	}

	opts, err := bind.NewKeyedTransactorWithChainID(signer.Key, e.chainID)
	if err != nil {
		return 0, fmt.Errorf("creating transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := e.contract.Transact(opts, "uploadNews", contentRef, title)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: sending transaction: %w", nw.ErrSubmissionTimeout, err)
		}
		return 0, fmt.Errorf("%w: %w", nw.ErrSubmissionRejected, err)
	}
	e.logger.Debug("ledger transaction sent", "tx", tx.Hash().Hex(), "ref", contentRef)

	receipt, err := bind.WaitMined(ctx, e.backend, tx)
	if err != nil {
		return 0, fmt.Errorf("%w: waiting for %s: %w", nw.ErrSubmissionTimeout, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return 0, fmt.Errorf("%w: transaction %s reverted", nw.ErrSubmissionRejected, tx.Hash().Hex())
	}
	return e.indexOf(ctx, receipt)
}

// indexOf derives the sequence index assigned by a mined append: the count
// at the receipt's block, minus the appends mined after it in that block.
func (e *EthereumLedger) indexOf(ctx context.Context, receipt *types.Receipt) (uint64, error) {
	count, err := e.countAt(ctx, receipt.BlockNumber)
	if err != nil {
		return 0, fmt.Errorf("reading index of %s: %w", receipt.TxHash.Hex(), err)
	}
	logs, err := e.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: receipt.BlockNumber,
		ToBlock:   receipt.BlockNumber,
		Addresses: []common.Address{e.address},
		Topics:    [][]common.Hash{{e.parsed.Events["NewsUploaded"].ID}},
	})
	if err != nil {
		return 0, fmt.Errorf("reading block logs: %w", err)
	}
	later := uint64(0)
	for _, lg := range logs {
		if lg.TxIndex > receipt.TransactionIndex {
			later++
		}
	}
	if count == 0 || later >= count {
		return 0, fmt.Errorf("inconsistent contract state at block %s", receipt.BlockNumber)
	}
	return count - 1 - later, nil
}

func (e *EthereumLedger) countAt(ctx context.Context, block *big.Int) (uint64, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx, BlockNumber: block}, &out, "newsCount"); err != nil {
		return 0, fmt.Errorf("calling newsCount: %w", err)
	}
	n, ok := out[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, errors.New("newsCount returned an unexpected value")
	}
	return n.Uint64(), nil
}

func (e *EthereumLedger) Count(ctx context.Context) (uint64, error) {
	return e.countAt(ctx, nil)
}

func (e *EthereumLedger) GetByIndex(ctx context.Context, i uint64) (*nw.PublicationRecord, error) {
	var out []interface{}
	err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getNews", new(big.Int).SetUint64(i))
	if err != nil {
		// The contract reverts on a bad index; tell that apart from transport
		// failures by checking the count.
		n, cerr := e.Count(ctx)
		if cerr == nil && i >= n {
			return nil, outOfRange(i, n)
		}
		return nil, fmt.Errorf("calling getNews(%d): %w", i, err)
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("getNews(%d) returned %d values", i, len(out))
	}
	ref, _ := out[0].(string)
	title, _ := out[1].(string)
	ts, _ := out[2].(*big.Int)
	author, _ := out[3].(common.Address)
	if ts == nil {
		ts = new(big.Int)
	}
	return &nw.PublicationRecord{
		ContentRef:    ref,
		Title:         title,
		RecordedAt:    ts.Int64(),
		Author:        author.Hex(),
		SequenceIndex: i,
	}, nil
}

// Subscribe polls the contract's count.
func (e *EthereumLedger) Subscribe(ctx context.Context) (<-chan nw.LedgerEvent, error) {
	return pollEvents(ctx, e, e.pollInterval, e.logger)
}

func (e *EthereumLedger) Close() error {
	if e.closeFn != nil {
		e.closeFn()
	}
	return nil
}

// Compile-time check that EthereumLedger implements nw.Ledger interface
var _ nw.Ledger = (*EthereumLedger)(nil)
