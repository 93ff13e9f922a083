package relayer

import (
	"context"
	"fmt"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"

	"cipherbet/internal/ledger"
)

// RPCNode is a Node backed by a CometBFT JSON-RPC endpoint.
type RPCNode struct {
	c *rpchttp.HTTP
}

func NewRPCNode(remote string) (*RPCNode, error) {
	c, err := rpchttp.New(remote)
	if err != nil {
		return nil, fmt.Errorf("relayer: rpc client %s: %w", remote, err)
	}
	return &RPCNode{c: c}, nil
}

func (n *RPCNode) Query(ctx context.Context, path string) ([]byte, error) {
	res, err := n.c.ABCIQuery(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("relayer: abci_query %s: %w", path, err)
	}
	if res.Response.Code != 0 {
		return nil, fmt.Errorf("relayer: query %s: code %d: %s", path, res.Response.Code, res.Response.Log)
	}
	return res.Response.Value, nil
}

func (n *RPCNode) Broadcast(ctx context.Context, tx []byte) error {
	res, err := n.c.BroadcastTxSync(ctx, tx)
	if err != nil {
		return fmt.Errorf("relayer: broadcast_tx_sync: %w", err)
	}
	return checkTxResult(res.Codespace, res.Code, res.Log)
}

// checkTxResult turns a rejected submission into an error, singling out the
// lost-race case.
func checkTxResult(codespace string, code uint32, logMsg string) error {
	if code == 0 {
		return nil
	}
	if codespace == ledger.ModuleName && code == ledger.ErrAlreadyFulfilled.ABCICode() {
		return fmt.Errorf("%w: %s", ErrAlreadyFulfilled, logMsg)
	}
	return fmt.Errorf("relayer: tx rejected: %s/%d: %s", codespace, code, logMsg)
}
