package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/alice2025ai/alice-ai-server/internal/auth"
	"github.com/alice2025ai/alice-ai-server/internal/chain"
	"github.com/alice2025ai/alice-ai-server/internal/model"
	"github.com/alice2025ai/alice-ai-server/internal/rate"
	"github.com/alice2025ai/alice-ai-server/internal/store"
)

// Server is the HTTP boundary: agent registry CRUD, the challenge and
// verification endpoints, and read-only share views.
type Server struct {
	store   store.Store
	auth    *auth.Service
	chains  *chain.Registry
	limiter *rate.Limiter
	logger  *slog.Logger
	router  chi.Router
}

func NewServer(st store.Store, authSvc *auth.Service, chains *chain.Registry, limiter *rate.Limiter, logger *slog.Logger) *Server {
	s := &Server{
		store:   st,
		auth:    authSvc,
		chains:  chains,
		limiter: limiter,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/challenge", s.limited(s.handleChallenge))
	r.Post("/verify-signature", s.limited(s.handleVerify))
	r.Post("/add_tg_bot", s.handleAddBot)
	r.Get("/agents", s.handleListAgents)
	r.Get("/agents/{agent_name}", s.handleGetAgent)
	r.Get("/agent/detail/{agent_name}", s.handleAgentDetail)
	r.Get("/users/{user_address}/shares/{chain_type}", s.handleUserShares)
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// limited wraps a handler with the per-IP request limiter.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	}
}

func clientKey(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}

// agentView is the public shape of an agent. The bot token never leaves
// the server.
type agentView struct {
	AgentName      string `json:"agent_name"`
	ChainType      string `json:"chain_type"`
	SubjectAddress string `json:"subject_address"`
	ChatGroupID    string `json:"chat_group_id"`
	InviteURL      string `json:"invite_url,omitempty"`
	Bio            string `json:"bio,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func toAgentView(a model.Agent) agentView {
	return agentView{
		AgentName:      a.AgentName,
		ChainType:      a.ChainType,
		SubjectAddress: a.SubjectAddress,
		ChatGroupID:    a.ChatGroupID,
		InviteURL:      a.InviteURL,
		Bio:            a.Bio,
		CreatedAt:      a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleHealth godoc
//
//	@Summary	Liveness probe
//	@Produce	json
//	@Success	200	{object}	map[string]any
//	@Router		/healthz [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "chains": s.chains.Names()})
}

type challengeRequest struct {
	ChatID string `json:"chat_id"`
	User   string `json:"user"`
}

// handleChallenge godoc
//
//	@Summary	Issue a single-use signing challenge
//	@Accept		json
//	@Produce	json
//	@Param		request	body		challengeRequest	true	"chat and address the challenge is bound to"
//	@Success	200		{object}	map[string]any
//	@Failure	404		{object}	map[string]any
//	@Router		/challenge [post]
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChatID == "" || req.User == "" {
		writeError(w, http.StatusBadRequest, "chat_id and user are required")
		return
	}

	c, err := s.auth.IssueChallenge(r.Context(), req.ChatID, req.User)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownChat) {
			writeError(w, http.StatusNotFound, "unknown chat")
			return
		}
		s.logger.Error("challenge issue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"challenge":  c.Value,
		"expires_at": c.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type verifyRequest struct {
	ChatID     string `json:"chat_id"`
	ChatUserID string `json:"chat_user_id"`
	User       string `json:"user"`
	Challenge  string `json:"challenge"`
	Signature  string `json:"signature"`
	ChainType  string `json:"chain_type"`
}

// handleVerify godoc
//
//	@Summary	Verify a signed challenge and authorize chat access
//	@Accept		json
//	@Produce	json
//	@Param		request	body		verifyRequest	true	"signed challenge"
//	@Success	200		{object}	map[string]any
//	@Failure	401		{object}	map[string]any
//	@Failure	403		{object}	map[string]any
//	@Router		/verify-signature [post]
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChatID == "" || req.ChatUserID == "" || req.User == "" ||
		req.Challenge == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "chat_id, chat_user_id, user, challenge and signature are required")
		return
	}

	result, err := s.auth.Verify(r.Context(), auth.VerifyRequest{
		ChatID:      req.ChatID,
		ChatUserID:  req.ChatUserID,
		UserAddress: req.User,
		Challenge:   req.Challenge,
		Signature:   req.Signature,
		ChainType:   req.ChainType,
	})
	if err != nil {
		status, msg := verifyErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("verification failed", "error", err)
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"agent_name": result.Agent.AgentName,
		"shares":     result.Shares.String(),
	})
}

func verifyErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnknownChat):
		return http.StatusNotFound, "unknown chat"
	case errors.Is(err, auth.ErrInvalidChallenge):
		return http.StatusUnauthorized, "invalid challenge"
	case errors.Is(err, auth.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, auth.ErrInsufficientShares):
		return http.StatusForbidden, "insufficient shares"
	case errors.Is(err, auth.ErrStaleChainData):
		return http.StatusServiceUnavailable, "chain data stale"
	case errors.Is(err, chain.ErrUnsupportedChain):
		return http.StatusBadRequest, "unsupported chain type"
	case errors.Is(err, chain.ErrUnknownSubject):
		return http.StatusNotFound, "unknown subject"
	case errors.Is(err, chain.ErrChainUnreachable):
		return http.StatusBadGateway, "chain unreachable"
	}
	return http.StatusInternalServerError, "internal error"
}

type addBotRequest struct {
	AgentName      string `json:"agent_name"`
	ChainType      string `json:"chain_type"`
	SubjectAddress string `json:"subject_address"`
	BotToken       string `json:"bot_token"`
	ChatGroupID    string `json:"chat_group_id"`
	InviteURL      string `json:"invite_url"`
	Bio            string `json:"bio"`
}

// handleAddBot godoc
//
//	@Summary	Register a chat agent for an on-chain subject
//	@Accept		json
//	@Produce	json
//	@Param		request	body		addBotRequest	true	"agent registration"
//	@Success	200		{object}	map[string]any
//	@Failure	409		{object}	map[string]any
//	@Router		/add_tg_bot [post]
func (s *Server) handleAddBot(w http.ResponseWriter, r *http.Request) {
	var req addBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.AgentName = strings.TrimSpace(req.AgentName)
	if req.AgentName == "" || req.SubjectAddress == "" || req.BotToken == "" || req.ChatGroupID == "" {
		writeError(w, http.StatusBadRequest, "agent_name, subject_address, bot_token and chat_group_id are required")
		return
	}
	if req.ChainType == "" {
		req.ChainType = "monad"
	}
	if _, err := s.chains.Lookup(req.ChainType); err != nil {
		writeError(w, http.StatusBadRequest, "unsupported chain type")
		return
	}

	agent := model.Agent{
		AgentName:      req.AgentName,
		ChainType:      req.ChainType,
		SubjectAddress: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.SubjectAddress), "0x")),
		BotToken:       req.BotToken,
		ChatGroupID:    req.ChatGroupID,
		InviteURL:      req.InviteURL,
		Bio:            req.Bio,
		CreatedAt:      time.Now(),
	}
	if _, err := s.store.CreateAgent(r.Context(), &agent); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateName):
			writeError(w, http.StatusConflict, "agent name already registered")
		case errors.Is(err, store.ErrDuplicateSubject):
			writeError(w, http.StatusConflict, "subject address already registered on this chain")
		default:
			s.logger.Error("agent create failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "agent": toAgentView(agent)})
}

// handleListAgents godoc
//
//	@Summary	List registered agents, newest first
//	@Produce	json
//	@Param		page		query		int	false	"page number, starting at 1"
//	@Param		page_size	query		int	false	"agents per page, max 100"
//	@Success	200			{object}	map[string]any
//	@Router		/agents [get]
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	page := parseIntDefault(r.URL.Query().Get("page"), 1)
	pageSize := parseIntDefault(r.URL.Query().Get("page_size"), 10)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	agents, total, err := s.store.ListAgents(r.Context(), page, pageSize)
	if err != nil {
		s.logger.Error("agent list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	views := make([]agentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, toAgentView(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"agents":    views,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// handleGetAgent godoc
//
//	@Summary	Look up an agent by name
//	@Produce	json
//	@Param		agent_name	path		string	true	"agent name"
//	@Success	200			{object}	map[string]any
//	@Router		/agents/{agent_name} [get]
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "agent_name")
	agent, err := s.store.GetAgentByName(r.Context(), name)
	if err != nil {
		// Lookup misses return a null agent, not a 404; bots poll this
		// endpoint while onboarding and treat 404s as hard failures.
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "agent": nil})
			return
		}
		s.logger.Error("agent lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "agent": toAgentView(agent)})
}

// handleAgentDetail godoc
//
//	@Summary	Fetch one agent, failing when it does not exist
//	@Produce	json
//	@Param		agent_name	path		string	true	"agent name"
//	@Success	200			{object}	map[string]any
//	@Failure	404			{object}	map[string]any
//	@Router		/agent/detail/{agent_name} [get]
func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "agent_name")
	agent, err := s.store.GetAgentByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Agent not found")
			return
		}
		s.logger.Error("agent lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"agent_name":      agent.AgentName,
		"chain_type":      agent.ChainType,
		"subject_address": agent.SubjectAddress,
		"invite_url":      agent.InviteURL,
		"bio":             agent.Bio,
		"created_at":      agent.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// handleUserShares godoc
//
//	@Summary	List a user's ledger share holdings on one chain
//	@Produce	json
//	@Param		user_address	path		string	true	"holder address"
//	@Param		chain_type		path		string	true	"chain type"
//	@Success	200				{object}	map[string]any
//	@Router		/users/{user_address}/shares/{chain_type} [get]
func (s *Server) handleUserShares(w http.ResponseWriter, r *http.Request) {
	address := strings.ToLower(strings.TrimPrefix(chi.URLParam(r, "user_address"), "0x"))
	chainType := chi.URLParam(r, "chain_type")
	if _, err := s.chains.Lookup(chainType); err != nil {
		writeError(w, http.StatusBadRequest, "unsupported chain type")
		return
	}

	holdings, err := s.store.GetUserShares(r.Context(), address, chainType)
	if err != nil {
		s.logger.Error("share lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	type holdingView struct {
		Subject string `json:"subject_address"`
		Shares  string `json:"shares_amount"`
	}
	views := make([]holdingView, 0, len(holdings))
	for _, h := range holdings {
		views = append(views, holdingView{Subject: h.Subject, Shares: h.ShareAmount.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"user_address": address,
		"chain_type":   chainType,
		"shares":       views,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
