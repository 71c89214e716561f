package handler

import (
	"ledgerhub/internal/ledger"

	"github.com/gin-gonic/gin"
)

// SetupRouter wires the HTTP surface over the ledger facade.
func SetupRouter(l ledger.Ledger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(l)

	api := r.Group("/api/v1")
	{
		transfers := api.Group("/transfers")
		{
			transfers.POST("", h.PrepareTransfer)
			transfers.PUT("/:id", h.FulfilTransfer)
			transfers.GET("/:id", h.GetTransfer)
		}

		participants := api.Group("/participants")
		{
			participants.POST("", h.CreateDfsp)
			participants.POST("/hub/accounts", h.CreateHubAccount)
			participants.PUT("/:name/active", h.SetDfspActive)
			participants.PUT("/:name/accounts/active", h.SetAccountActive)
			participants.POST("/:name/deposits", h.Deposit)
			participants.POST("/:name/withdrawals", h.WithdrawPrepare)
			participants.PUT("/:name/withdrawals/:id", h.WithdrawAction)
			participants.PUT("/:name/ndc", h.SetNetDebitCap)
			participants.GET("/:name/balance", h.GetBalance)
		}

		windows := api.Group("/settlement-windows")
		{
			windows.GET("", h.ListSettlementWindows)
			windows.POST("/:id/close", h.CloseSettlementWindow)
		}

		settlements := api.Group("/settlements")
		{
			settlements.POST("", h.SettlementPrepare)
			settlements.GET("/:id", h.GetSettlement)
			settlements.PUT("/:id", h.SettlementUpdate)
			settlements.POST("/:id/abort", h.SettlementAbort)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
