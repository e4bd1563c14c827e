package chain

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Sui verifies serialized ed25519 signatures and reads share state from
// a Sui fullnode. A serialized signature is
// base64(flag || sig64 || pubkey32) where flag 0x00 marks ed25519; the
// signer's address is 0x-prefixed blake2b-256 over flag || pubkey.
type Sui struct {
	rpcURL       string
	eventType    string
	sharesObject string
	client       *http.Client
	pageSize     int
}

const suiEd25519Flag = 0x00

// NewSui builds the adapter. eventType is the fully qualified Move event
// type of share trades, sharesObject the object id of the shares table.
func NewSui(rpcURL, eventType, sharesObject string, timeout time.Duration) *Sui {
	return &Sui{
		rpcURL:       rpcURL,
		eventType:    eventType,
		sharesObject: sharesObject,
		client:       &http.Client{Timeout: timeout},
		pageSize:     100,
	}
}

func (s *Sui) Name() string { return "sui" }

func (s *Sui) VerifySignature(message, signature, claimedAddress string) bool {
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(raw) != 1+ed25519.SignatureSize+ed25519.PublicKeySize {
		return false
	}
	if raw[0] != suiEd25519Flag {
		return false
	}
	sig := raw[1 : 1+ed25519.SignatureSize]
	pub := ed25519.PublicKey(raw[1+ed25519.SignatureSize:])
	if !ed25519.Verify(pub, []byte(message), sig) {
		return false
	}
	return strings.EqualFold(suiAddress(pub), strings.TrimPrefix(strings.TrimSpace(claimedAddress), "0x"))
}

func (s *Sui) ShareBalance(ctx context.Context, userAddress, subjectAddress string) (*big.Int, error) {
	name := map[string]any{
		"type": moduleOf(s.eventType) + "::ShareKey",
		"value": map[string]string{
			"subject": ensure0x(subjectAddress),
			"holder":  ensure0x(userAddress),
		},
	}
	var result struct {
		Data struct {
			Content struct {
				Fields struct {
					Value string `json:"value"`
				} `json:"fields"`
			} `json:"content"`
		} `json:"data"`
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	err := jsonRPC(ctx, s.client, s.rpcURL, "suix_getDynamicFieldObject", []any{s.sharesObject, name}, &result)
	if err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Message), "not found") {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	if result.Error != nil {
		// The fullnode reports a missing dynamic field inside the result
		// envelope, not as an RPC error. No field means no shares held.
		if result.Error.Code == "dynamicFieldNotFound" {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("%w: object error %s", ErrChainUnreachable, result.Error.Code)
	}
	balance, ok := new(big.Int).SetString(result.Data.Content.Fields.Value, 10)
	if !ok {
		return nil, fmt.Errorf("%w: bad balance value %q", ErrChainUnreachable, result.Data.Content.Fields.Value)
	}
	return balance, nil
}

// suiEventCursor is the fullnode's event pagination cursor, persisted
// verbatim in Cursor.Metadata between ingestion runs.
type suiEventCursor struct {
	TxDigest string `json:"txDigest"`
	EventSeq string `json:"eventSeq"`
}

func (s *Sui) TradeEvents(ctx context.Context, cur Cursor) ([]Trade, Cursor, error) {
	var cursor any
	if cur.Metadata != "" {
		var c suiEventCursor
		if err := json.Unmarshal([]byte(cur.Metadata), &c); err != nil {
			return nil, cur, fmt.Errorf("bad sui cursor %q: %w", cur.Metadata, err)
		}
		cursor = c
	}

	params := []any{
		map[string]any{"MoveEventType": s.eventType},
		cursor,
		s.pageSize,
		false, // ascending
	}
	var result struct {
		Data []struct {
			ParsedJSON struct {
				Trader      string `json:"trader"`
				Subject     string `json:"subject"`
				IsBuy       bool   `json:"is_buy"`
				ShareAmount string `json:"share_amount"`
			} `json:"parsedJson"`
		} `json:"data"`
		NextCursor *suiEventCursor `json:"nextCursor"`
		HasNext    bool            `json:"hasNextPage"`
	}
	if err := jsonRPC(ctx, s.client, s.rpcURL, "suix_queryEvents", params, &result); err != nil {
		return nil, cur, err
	}
	if len(result.Data) == 0 {
		return nil, cur, nil
	}

	trades := make([]Trade, 0, len(result.Data))
	for _, ev := range result.Data {
		amount, ok := new(big.Int).SetString(ev.ParsedJSON.ShareAmount, 10)
		if !ok {
			continue
		}
		trades = append(trades, Trade{
			Trader:  strings.ToLower(strings.TrimPrefix(ev.ParsedJSON.Trader, "0x")),
			Subject: strings.ToLower(strings.TrimPrefix(ev.ParsedJSON.Subject, "0x")),
			IsBuy:   ev.ParsedJSON.IsBuy,
			Amount:  amount,
		})
	}

	next := cur
	if result.NextCursor != nil {
		meta, err := json.Marshal(result.NextCursor)
		if err != nil {
			return nil, cur, err
		}
		next = Cursor{Block: cur.Block + uint64(len(result.Data)), Metadata: string(meta)}
	}
	return trades, next, nil
}

func suiAddress(pub ed25519.PublicKey) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{suiEd25519Flag})
	h.Write(pub)
	return hex.EncodeToString(h.Sum(nil))
}

// moduleOf strips the struct name from a fully qualified Move type,
// leaving the package::module prefix.
func moduleOf(eventType string) string {
	if i := strings.LastIndex(eventType, "::"); i > 0 {
		return eventType[:i]
	}
	return eventType
}

func ensure0x(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "0x") {
		return addr
	}
	return "0x" + addr
}
