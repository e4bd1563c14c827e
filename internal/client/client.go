// Package client is a small Go client for the server's REST API. It
// also carries EVM test credentials able to sign challenges the way a
// wallet would, which the end-to-end tests and the seed tool use.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Credentials is an EVM keypair able to produce personal_sign
// signatures over challenge strings.
type Credentials struct {
	key *secp256k1.PrivateKey
}

func NewCredentials() (*Credentials, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &Credentials{key: key}, nil
}

// Address returns the 0x-prefixed EVM address of the keypair.
func (c *Credentials) Address() string {
	h := sha3.NewLegacyKeccak256()
	h.Write(c.key.PubKey().SerializeUncompressed()[1:])
	return "0x" + hex.EncodeToString(h.Sum(nil)[12:])
}

// SignChallenge signs the challenge with the personal message prefix
// and returns the wallet-style hex signature r||s||v.
func (c *Credentials) SignChallenge(challenge string) string {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(challenge))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefix))
	h.Write([]byte(challenge))

	compact := secpecdsa.SignCompact(c.key, h.Sum(nil), false)
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return "0x" + hex.EncodeToString(sig)
}

type ChallengeResponse struct {
	Success   bool   `json:"success"`
	Challenge string `json:"challenge"`
	ExpiresAt string `json:"expires_at"`
	Error     string `json:"error"`
}

func (c *Client) IssueChallenge(ctx context.Context, chatID, userAddress string) (ChallengeResponse, error) {
	var resp ChallengeResponse
	err := c.post(ctx, "/challenge", map[string]string{
		"chat_id": chatID,
		"user":    userAddress,
	}, &resp)
	return resp, err
}

type VerifyResponse struct {
	Success   bool   `json:"success"`
	AgentName string `json:"agent_name"`
	Shares    string `json:"shares"`
	Error     string `json:"error"`
}

func (c *Client) VerifySignature(ctx context.Context, chatID, chatUserID, userAddress, challenge, signature string) (VerifyResponse, error) {
	var resp VerifyResponse
	err := c.post(ctx, "/verify-signature", map[string]string{
		"chat_id":      chatID,
		"chat_user_id": chatUserID,
		"user":         userAddress,
		"challenge":    challenge,
		"signature":    signature,
	}, &resp)
	return resp, err
}

type Agent struct {
	AgentName      string `json:"agent_name"`
	ChainType      string `json:"chain_type"`
	SubjectAddress string `json:"subject_address"`
	ChatGroupID    string `json:"chat_group_id"`
	InviteURL      string `json:"invite_url"`
	Bio            string `json:"bio"`
	CreatedAt      string `json:"created_at"`
}

type AddBotRequest struct {
	AgentName      string `json:"agent_name"`
	ChainType      string `json:"chain_type,omitempty"`
	SubjectAddress string `json:"subject_address"`
	BotToken       string `json:"bot_token"`
	ChatGroupID    string `json:"chat_group_id"`
	InviteURL      string `json:"invite_url,omitempty"`
	Bio            string `json:"bio,omitempty"`
}

type AgentResponse struct {
	Success bool   `json:"success"`
	Agent   *Agent `json:"agent"`
	Error   string `json:"error"`
}

func (c *Client) AddBot(ctx context.Context, req AddBotRequest) (AgentResponse, error) {
	var resp AgentResponse
	err := c.post(ctx, "/add_tg_bot", req, &resp)
	return resp, err
}

type AgentListResponse struct {
	Success  bool    `json:"success"`
	Agents   []Agent `json:"agents"`
	Total    int64   `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
	Error    string  `json:"error"`
}

func (c *Client) ListAgents(ctx context.Context, page, pageSize int) (AgentListResponse, error) {
	var resp AgentListResponse
	path := fmt.Sprintf("/agents?page=%d&page_size=%d", page, pageSize)
	err := c.get(ctx, path, &resp)
	return resp, err
}

func (c *Client) GetAgent(ctx context.Context, agentName string) (AgentResponse, error) {
	var resp AgentResponse
	err := c.get(ctx, "/agents/"+url.PathEscape(agentName), &resp)
	return resp, err
}

// AgentDetailResponse is flat, unlike the nested lookup response.
type AgentDetailResponse struct {
	Success        bool   `json:"success"`
	AgentName      string `json:"agent_name"`
	ChainType      string `json:"chain_type"`
	SubjectAddress string `json:"subject_address"`
	InviteURL      string `json:"invite_url"`
	Bio            string `json:"bio"`
	CreatedAt      string `json:"created_at"`
	Error          string `json:"error"`
}

func (c *Client) AgentDetail(ctx context.Context, agentName string) (AgentDetailResponse, error) {
	var resp AgentDetailResponse
	err := c.get(ctx, "/agent/detail/"+url.PathEscape(agentName), &resp)
	return resp, err
}

type Holding struct {
	SubjectAddress string `json:"subject_address"`
	SharesAmount   string `json:"shares_amount"`
}

type SharesResponse struct {
	Success     bool      `json:"success"`
	UserAddress string    `json:"user_address"`
	ChainType   string    `json:"chain_type"`
	Shares      []Holding `json:"shares"`
	Error       string    `json:"error"`
}

func (c *Client) UserShares(ctx context.Context, userAddress, chainType string) (SharesResponse, error) {
	var resp SharesResponse
	path := "/users/" + url.PathEscape(userAddress) + "/shares/" + url.PathEscape(chainType)
	err := c.get(ctx, path, &resp)
	return resp, err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// do decodes any JSON response regardless of status; callers read the
// success and error fields the server always sets.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
