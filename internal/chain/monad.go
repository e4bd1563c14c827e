package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Monad is the adapter for the Monad chain (EVM semantics). Signatures
// follow the personal_sign convention: the raw challenge string is
// prefixed with "\x19Ethereum Signed Message:\n<len>", keccak256-hashed,
// and signed as a 65-byte r||s||v recoverable signature in hex.
type Monad struct {
	rpcURL     string
	contract   string
	client     *http.Client
	batchSize  uint64
	startBlock uint64
}

func NewMonad(rpcURL, sharesContract string, startBlock uint64, timeout time.Duration) *Monad {
	return &Monad{
		rpcURL:     rpcURL,
		contract:   sharesContract,
		client:     &http.Client{Timeout: timeout},
		batchSize:  100,
		startBlock: startBlock,
	}
}

func (m *Monad) Name() string { return "monad" }

func (m *Monad) VerifySignature(message, signature, claimedAddress string) bool {
	sig, err := decodeHex(signature)
	if err != nil || len(sig) != 65 {
		return false
	}
	claimed, err := decodeHex(claimedAddress)
	if err != nil || len(claimed) != 20 {
		return false
	}

	// Recoverable signatures arrive r||s||v; RecoverCompact wants the
	// recovery id first and offset by 27.
	v := sig[64]
	if v < 27 {
		v += 27
	}
	compact := make([]byte, 65)
	compact[0] = v
	copy(compact[1:], sig[:64])

	pub, _, err := secpecdsa.RecoverCompact(compact, personalHash([]byte(message)))
	if err != nil {
		return false
	}
	return bytes.Equal(pubkeyToAddress(pub), claimed)
}

func (m *Monad) ShareBalance(ctx context.Context, userAddress, subjectAddress string) (*big.Int, error) {
	subject, err := decodeHex(subjectAddress)
	if err != nil || len(subject) != 20 {
		return nil, fmt.Errorf("%w: bad subject address %q", ErrUnknownSubject, subjectAddress)
	}
	user, err := decodeHex(userAddress)
	if err != nil || len(user) != 20 {
		return nil, fmt.Errorf("invalid user address %q", userAddress)
	}

	// sharesBalance(address subject, address user) -> uint256
	data := make([]byte, 0, 4+64)
	data = append(data, sharesBalanceSelector()...)
	data = append(data, leftPad32(subject)...)
	data = append(data, leftPad32(user)...)

	params := []any{
		map[string]string{
			"to":   "0x" + hex.EncodeToString(leftTrim(m.contract)),
			"data": "0x" + hex.EncodeToString(data),
		},
		"latest",
	}
	var result string
	if err := m.rpcCall(ctx, "eth_call", params, &result); err != nil {
		return nil, err
	}
	raw, err := decodeHex(result)
	if err != nil {
		return nil, fmt.Errorf("%w: bad eth_call result %q", ErrChainUnreachable, result)
	}
	return new(big.Int).SetBytes(raw), nil
}

func (m *Monad) TradeEvents(ctx context.Context, cur Cursor) ([]Trade, Cursor, error) {
	from := cur.Block
	if from < m.startBlock {
		from = m.startBlock
	}

	var headHex string
	if err := m.rpcCall(ctx, "eth_blockNumber", []any{}, &headHex); err != nil {
		return nil, cur, err
	}
	head, err := hexToUint64(headHex)
	if err != nil {
		return nil, cur, fmt.Errorf("%w: bad block number %q", ErrChainUnreachable, headHex)
	}
	if from >= head {
		return nil, cur, nil
	}
	to := from + m.batchSize
	if to > head {
		to = head
	}

	params := []any{map[string]any{
		"address":   "0x" + hex.EncodeToString(leftTrim(m.contract)),
		"fromBlock": fmt.Sprintf("0x%x", from+1),
		"toBlock":   fmt.Sprintf("0x%x", to),
		"topics":    []any{tradeEventTopic()},
	}}
	var logs []struct {
		Data string `json:"data"`
	}
	if err := m.rpcCall(ctx, "eth_getLogs", params, &logs); err != nil {
		return nil, cur, err
	}

	trades := make([]Trade, 0, len(logs))
	for _, l := range logs {
		t, err := decodeTradeLog(l.Data)
		if err != nil {
			// Skip malformed logs rather than wedging the cursor.
			continue
		}
		trades = append(trades, t)
	}
	return trades, Cursor{Block: to}, nil
}

// decodeTradeLog unpacks the non-indexed Trade event:
// Trade(address trader, address subject, bool isBuy, uint256 shareAmount,
// uint256 ethAmount, uint256 protocolEthAmount, uint256 subjectEthAmount,
// uint256 supply).
func decodeTradeLog(data string) (Trade, error) {
	raw, err := decodeHex(data)
	if err != nil || len(raw) < 4*32 {
		return Trade{}, fmt.Errorf("short trade log")
	}
	word := func(i int) []byte { return raw[i*32 : (i+1)*32] }
	return Trade{
		Trader:  hex.EncodeToString(word(0)[12:]),
		Subject: hex.EncodeToString(word(1)[12:]),
		IsBuy:   word(2)[31] != 0,
		Amount:  new(big.Int).SetBytes(word(3)),
	}, nil
}

func (m *Monad) rpcCall(ctx context.Context, method string, params any, result any) error {
	err := jsonRPC(ctx, m.client, m.rpcURL, method, params, result)
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Message), "revert") {
		return fmt.Errorf("%w: %s", ErrUnknownSubject, rpcErr.Message)
	}
	return err
}

func personalHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefix))
	h.Write(msg)
	return h.Sum(nil)
}

func pubkeyToAddress(pub *secp256k1.PublicKey) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub.SerializeUncompressed()[1:])
	return h.Sum(nil)[12:]
}

func sharesBalanceSelector() []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("sharesBalance(address,address)"))
	return h.Sum(nil)[:4]
}

func tradeEventTopic() string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("Trade(address,address,bool,uint256,uint256,uint256,uint256,uint256)"))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func decodeHex(input string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(input), "0x")
	return hex.DecodeString(clean)
}

func leftPad32(b []byte) []byte {
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func leftTrim(addr string) []byte {
	b, err := decodeHex(addr)
	if err != nil {
		return nil
	}
	return b
}

func hexToUint64(s string) (uint64, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	n, ok := new(big.Int).SetString(clean, 16)
	if !ok {
		return 0, fmt.Errorf("bad hex number %q", s)
	}
	return n.Uint64(), nil
}
