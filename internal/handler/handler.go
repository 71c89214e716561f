package handler

import (
	"strconv"
	"time"

	"ledgerhub/internal/ledger"
	"ledgerhub/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler exposes the ledger facade over HTTP. The transfer endpoints mirror
// the Kafka command topics so operators and tests can drive clearing without
// a broker; everything else is the admin surface.
type Handler struct {
	ledger ledger.Ledger
}

func NewHandler(l ledger.Ledger) *Handler {
	return &Handler{ledger: l}
}

// writeError maps a domain error to the wire code vocabulary.
func writeError(c *gin.Context, err error) {
	switch ledger.KindOf(err) {
	case ledger.KindValidation:
		response.BusinessError(c, response.CodeValidationFailed, err.Error())
	case ledger.KindLiquidity:
		response.BusinessError(c, response.CodeInsufficientLiquidity, err.Error())
	case ledger.KindDuplicateConflict:
		response.BusinessError(c, response.CodeDuplicateConflict, err.Error())
	case ledger.KindInvalidState:
		response.BusinessError(c, response.CodeInvalidState, err.Error())
	case ledger.KindInvariant:
		response.BusinessError(c, response.CodeSettlementError, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// PrepareTransfer handles POST /transfers.
func (h *Handler) PrepareTransfer(c *gin.Context) {
	var req ledger.PrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}

	result := h.ledger.Prepare(c.Request.Context(), req)
	if result.Err != nil && result.Outcome == ledger.PrepareFailOther {
		writeError(c, result.Err)
		return
	}

	response.Success(c, gin.H{
		"transfer_id": result.TransferID,
		"outcome":     result.Outcome.String(),
		"state":       result.State,
		"reasons":     result.Reasons,
	})
}

// FulfilTransfer handles PUT /transfers/:id.
func (h *Handler) FulfilTransfer(c *gin.Context) {
	var req ledger.FulfilRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}
	req.TransferID = c.Param("id")

	result := h.ledger.Fulfil(c.Request.Context(), req)
	if result.Err != nil && result.Outcome == ledger.FulfilFailOther {
		writeError(c, result.Err)
		return
	}

	response.Success(c, gin.H{
		"transfer_id": result.TransferID,
		"outcome":     result.Outcome.String(),
		"state":       result.State,
	})
}

// GetTransfer handles GET /transfers/:id.
func (h *Handler) GetTransfer(c *gin.Context) {
	result := h.ledger.LookupTransfer(c.Request.Context(), c.Param("id"))
	switch result.Outcome {
	case ledger.LookupNotFound:
		response.BusinessError(c, response.CodeTransferNotFound, "transfer not found")
	case ledger.LookupFailed:
		writeError(c, result.Err)
	default:
		response.Success(c, result.Transfer)
	}
}

type createHubAccountRequest struct {
	Currency        string `json:"currency" binding:"required"`
	SettlementModel string `json:"settlement_model"`
}

// CreateHubAccount handles POST /participants/hub/accounts.
func (h *Handler) CreateHubAccount(c *gin.Context) {
	var req createHubAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}

	if err := h.ledger.CreateHubAccount(c.Request.Context(), req.Currency, req.SettlementModel); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"currency": req.Currency})
}

type createDfspRequest struct {
	Name       string            `json:"name" binding:"required"`
	Currencies []string          `json:"currencies" binding:"required"`
	Deposits   map[string]string `json:"deposits"`
}

// CreateDfsp handles POST /participants.
func (h *Handler) CreateDfsp(c *gin.Context) {
	var req createDfspRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}

	if err := h.ledger.CreateDfsp(c.Request.Context(), req.Name, req.Currencies, req.Deposits); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"name": req.Name, "currencies": req.Currencies})
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetDfspActive handles PUT /participants/:name/active.
func (h *Handler) SetDfspActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}

	if err := h.ledger.SetDfspActive(c.Request.Context(), c.Param("name"), *req.Active); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"name": c.Param("name"), "active": *req.Active})
}

type setAccountActiveRequest struct {
	Currency string `json:"currency" binding:"required"`
	Type     string `json:"type" binding:"required"`
	Active   *bool  `json:"active" binding:"required"`
}

// SetAccountActive handles PUT /participants/:name/accounts/active.
func (h *Handler) SetAccountActive(c *gin.Context) {
	var req setAccountActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}

	err := h.ledger.SetAccountActive(c.Request.Context(), c.Param("name"), req.Currency, req.Type, *req.Active)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"name": c.Param("name"), "currency": req.Currency, "type": req.Type, "active": *req.Active})
}

type depositRequest struct {
	TransferID string `json:"transfer_id" binding:"required"`
	Currency   string `json:"currency" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
	Reason     string `json:"reason"`
}

// Deposit handles POST /participants/:name/deposits.
func (h *Handler) Deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}

	err := h.ledger.Deposit(c.Request.Context(), req.TransferID, c.Param("name"), req.Currency, req.Amount, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"transfer_id": req.TransferID})
}

type withdrawRequest struct {
	TransferID string `json:"transfer_id" binding:"required"`
	Currency   string `json:"currency" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
}

// WithdrawPrepare handles POST /participants/:name/withdrawals.
func (h *Handler) WithdrawPrepare(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}

	err := h.ledger.WithdrawPrepare(c.Request.Context(), req.TransferID, c.Param("name"), req.Currency, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"transfer_id": req.TransferID, "state": "RESERVED"})
}

type withdrawActionRequest struct {
	Action string `json:"action" binding:"required,oneof=commit abort"`
}

// WithdrawAction handles PUT /participants/:name/withdrawals/:id.
func (h *Handler) WithdrawAction(c *gin.Context) {
	var req withdrawActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}

	var err error
	if req.Action == "commit" {
		err = h.ledger.WithdrawCommit(c.Request.Context(), c.Param("id"))
	} else {
		err = h.ledger.WithdrawAbort(c.Request.Context(), c.Param("id"))
	}
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"transfer_id": c.Param("id"), "action": req.Action})
}

type netDebitCapRequest struct {
	Currency string `json:"currency" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
}

// SetNetDebitCap handles PUT /participants/:name/ndc.
func (h *Handler) SetNetDebitCap(c *gin.Context) {
	var req netDebitCapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}

	if err := h.ledger.SetNetDebitCap(c.Request.Context(), c.Param("name"), req.Currency, req.Amount); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"name": c.Param("name"), "currency": req.Currency, "amount": req.Amount})
}

// GetBalance handles GET /participants/:name/balance?currency=USD&type=POSITION.
func (h *Handler) GetBalance(c *gin.Context) {
	currency := c.Query("currency")
	accountType := c.DefaultQuery("type", "POSITION")
	if currency == "" {
		response.ParamError(c, "currency is required")
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), c.Param("name"), currency, accountType)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"name":     c.Param("name"),
		"currency": currency,
		"type":     accountType,
		"settled":  balance.Settled,
		"reserved": balance.Reserved,
	})
}

// ListSettlementWindows handles GET /settlement-windows?state=OPEN&limit=20.
func (h *Handler) ListSettlementWindows(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	filter := ledger.WindowFilter{State: c.Query("state"), Limit: limit}

	windows, err := h.ledger.GetSettlementWindows(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"windows": windows})
}

type closeWindowRequest struct {
	Reason string `json:"reason"`
}

// CloseSettlementWindow handles POST /settlement-windows/:id/close.
func (h *Handler) CloseSettlementWindow(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid window id")
		return
	}

	var req closeWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "closed at " + time.Now().UTC().Format(time.RFC3339)
	}

	window, err := h.ledger.CloseSettlementWindow(c.Request.Context(), id, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, window)
}

type settlementPrepareRequest struct {
	WindowIDs []int64 `json:"window_ids" binding:"required"`
	Model     string  `json:"model" binding:"required"`
	Reason    string  `json:"reason"`
}

// SettlementPrepare handles POST /settlements.
func (h *Handler) SettlementPrepare(c *gin.Context) {
	var req settlementPrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}

	settlement, err := h.ledger.SettlementPrepare(c.Request.Context(), req.WindowIDs, req.Model, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, settlement)
}

type settlementUpdateRequest struct {
	Updates []ledger.BalanceUpdate `json:"updates" binding:"required"`
}

// SettlementUpdate handles PUT /settlements/:id.
func (h *Handler) SettlementUpdate(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid settlement id")
		return
	}

	var req settlementUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}

	settlement, err := h.ledger.SettlementUpdate(c.Request.Context(), id, req.Updates)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, settlement)
}

type settlementAbortRequest struct {
	Reason string `json:"reason"`
}

// SettlementAbort handles POST /settlements/:id/abort.
func (h *Handler) SettlementAbort(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid settlement id")
		return
	}

	var req settlementAbortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}

	if err := h.ledger.SettlementAbort(c.Request.Context(), id, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"settlement_id": id, "state": "ABORTED"})
}

// GetSettlement handles GET /settlements/:id.
func (h *Handler) GetSettlement(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid settlement id")
		return
	}

	settlement, err := h.ledger.GetSettlement(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, settlement)
}
