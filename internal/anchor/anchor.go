package anchor

import (
	"context"
	"fmt"
)

// Config is the ledger endpoint plus the credential used to submit.
type Config struct {
	RPCURL       string `json:"rpc_url"`
	ContractAddr string `json:"contract_addr"`
	PrivKey      string `json:"priv_key"`
}

// Receipt identifies a submitted anchor transaction.
type Receipt struct {
	TxHash string `json:"tx_hash"`
}

// Anchorer is the ledger collaborator contract. Implementations must honor
// ctx deadlines on both calls and surface transient failures as
// TransientError so retry policy upstream can tell them apart. The adapter
// owns no retry policy of its own.
type Anchorer interface {
	Anchor(ctx context.Context, hashHex string, cfg Config) (Receipt, error)
	IsAnchored(ctx context.Context, hashHex string, cfg Config) (bool, error)
}

// TransientError marks a failure worth retrying (network trouble, node
// overload). Anything else is treated as permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient anchor error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}
