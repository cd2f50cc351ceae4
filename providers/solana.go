package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/memo"
	"github.com/blocto/solana-go-sdk/program/system"
	"github.com/blocto/solana-go-sdk/types"

	"github.com/kilnworks/kiln/utils"
)

const defaultDevnetRPC = "https://api.devnet.solana.com"

// How far back FindByReference scans the treasury's signature history.
const referenceScanLimit = 200

// SolanaNetwork implements PaymentNetwork against a Solana RPC node.
//
// Payments are plain system transfers from the buyer to each split recipient,
// with a memo instruction carrying the idempotency key as the correlation
// reference. The buyer signs and broadcasts the transaction externally; this
// side only builds the unsigned message and later checks confirmations.
type SolanaNetwork struct {
	rpc      *client.Client
	treasury common.PublicKey
	retry    *utils.RetryConfig
	logger   *utils.Logger
}

func CreateSolanaNetwork(rpcURL, treasuryAddress string) *SolanaNetwork {
	u := strings.TrimSpace(rpcURL)
	if u == "" {
		u = defaultDevnetRPC
	}
	retry := utils.DefaultRetryConfig()
	retry.BaseDelay = 200 * time.Millisecond
	return &SolanaNetwork{
		rpc:      client.NewClient(u),
		treasury: common.PublicKeyFromString(treasuryAddress),
		retry:    retry,
		logger:   utils.NewLogger("solana"),
	}
}

func (p *SolanaNetwork) BuildTransaction(ctx context.Context, buyer string, splits []Split, reference string) (string, error) {
	payer := common.PublicKeyFromString(buyer)

	instructions := make([]types.Instruction, 0, len(splits)+1)
	for _, split := range splits {
		if split.Amount <= 0 {
			continue
		}
		instructions = append(instructions, system.Transfer(system.TransferParam{
			From:   payer,
			To:     common.PublicKeyFromString(split.Recipient),
			Amount: uint64(split.Amount),
		}))
	}
	instructions = append(instructions, memo.BuildMemo(memo.BuildMemoParam{
		SignerPubkeys: []common.PublicKey{payer},
		Memo:          []byte(reference),
	}))

	latest, err := p.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("GetLatestBlockhash: %w", err)
	}

	message := types.NewMessage(types.NewMessageParam{
		FeePayer:        payer,
		RecentBlockhash: latest.Blockhash,
		Instructions:    instructions,
	})

	raw, err := message.Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// IsConfirmed fetches the transaction and checks that it executed without
// error and that every split recipient's lamport delta covers its quoted
// amount. Deltas are read from pre/post balances, so a transfer that moves
// the right total to the wrong recipients does not pass.
func (p *SolanaNetwork) IsConfirmed(ctx context.Context, signature string, splits []Split) (bool, error) {
	var satisfied, found bool

	err := utils.Retry(ctx, p.retry, func() error {
		txResp, err := p.rpc.GetTransaction(ctx, signature)
		if err != nil {
			return err
		}
		if txResp == nil || txResp.Meta == nil {
			found = false
			return nil
		}
		if txResp.Meta.Err != nil {
			found = false
			return nil
		}

		found = true
		satisfied = splitsSatisfied(splits, txResp.Transaction.Message.Accounts,
			txResp.Meta.PreBalances, txResp.Meta.PostBalances)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("GetTransaction %s: %w", signature, err)
	}
	return found && satisfied, nil
}

// splitsSatisfied checks each recipient's balance delta against the sum of
// its quoted split amounts. An empty quote never confirms.
func splitsSatisfied(splits []Split, accounts []common.PublicKey, pre, post []int64) bool {
	required := make(map[string]int64, len(splits))
	for _, split := range splits {
		if split.Amount > 0 {
			required[split.Recipient] += split.Amount
		}
	}
	if len(required) == 0 {
		return false
	}

	deltas := make(map[string]int64, len(accounts))
	for i, key := range accounts {
		if i < len(pre) && i < len(post) {
			deltas[key.ToBase58()] += post[i] - pre[i]
		}
	}

	for recipient, amount := range required {
		if deltas[recipient] < amount {
			return false
		}
	}
	return true
}

// FindByReference scans recent treasury activity for a confirmed transfer
// whose memo equals reference. Signature listings include memos, so no
// per-transaction fetch is needed for the scan itself.
func (p *SolanaNetwork) FindByReference(ctx context.Context, reference string) (string, bool, error) {
	sigs, err := p.rpc.GetSignaturesForAddressWithConfig(ctx, p.treasury.ToBase58(), client.GetSignaturesForAddressConfig{
		Limit: referenceScanLimit,
	})
	if err != nil {
		return "", false, fmt.Errorf("GetSignaturesForAddress: %w", err)
	}

	for _, info := range sigs {
		if info.Err != nil || info.Memo == nil {
			continue
		}
		// Memos arrive as "[len] text"; match on containment.
		if strings.Contains(*info.Memo, reference) {
			return info.Signature, true, nil
		}
	}
	return "", false, nil
}

func (p *SolanaNetwork) IsAvailable(ctx context.Context) bool {
	_, err := p.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		p.logger.Warn(ctx, "solana rpc unavailable", map[string]interface{}{"error": err.Error()})
	}
	return err == nil
}
