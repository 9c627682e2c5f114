package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/relaya/internal/credit/domain"
	"github.com/smallbiznis/relaya/pkg/db/pagination"
)

type topUpRequest struct {
	Amount      int64  `json:"amount"`
	PaymentID   string `json:"payment_id"`
	PackageID   string `json:"package_id"`
	Description string `json:"description"`
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type adjustRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type transactionResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Amount       int64          `json:"amount"`
	BalanceAfter int64          `json:"balance_after"`
	PaymentID    string         `json:"payment_id,omitempty"`
	PackageID    string         `json:"package_id,omitempty"`
	Description  string         `json:"description,omitempty"`
	CreatedBy    string         `json:"created_by,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (s *Server) GetCreditBalance(c *gin.Context) {
	balance, err := s.creditSvc.GetBalance(c.Request.Context(), tenantID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"balance": balance}})
}

func (s *Server) ListCreditTransactions(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	txs, pageInfo, err := s.creditSvc.ListTransactions(c.Request.Context(), tenantID(c), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for i := range txs {
		out = append(out, toTransactionResponse(&txs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "page_info": pageInfo})
}

func (s *Server) TopUpCredits(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	paymentID, err := parseOptionalSnowflakeID(req.PaymentID)
	if err != nil {
		AbortWithError(c, newValidationError("payment_id", "invalid_payment_id", "invalid payment id"))
		return
	}
	packageID, err := parseOptionalSnowflakeID(req.PackageID)
	if err != nil {
		AbortWithError(c, newValidationError("package_id", "invalid_package_id", "invalid package id"))
		return
	}

	balance, err := s.creditSvc.AddCredits(c.Request.Context(), tenantID(c), req.Amount, creditdomain.GrantRef{
		PaymentID: paymentID,
		PackageID: packageID,
	}, actorID(c), strings.TrimSpace(req.Description))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"balance": balance}})
}

func (s *Server) RefundCredits(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	balance, err := s.creditSvc.Refund(c.Request.Context(), tenantID(c), req.Amount, strings.TrimSpace(req.Reason), actorID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"balance": balance}})
}

func (s *Server) AdjustCredits(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	balance, err := s.creditSvc.AdminAdjust(c.Request.Context(), tenantID(c), req.Amount, actorID(c), strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"balance": balance}})
}

func toTransactionResponse(tx *creditdomain.CreditTransaction) transactionResponse {
	resp := transactionResponse{
		ID:           tx.ID.String(),
		Type:         string(tx.Type),
		Amount:       tx.Amount,
		BalanceAfter: tx.BalanceAfter,
		Description:  tx.Description,
		Metadata:     tx.Metadata,
		CreatedAt:    tx.CreatedAt,
	}
	if tx.PaymentID != nil {
		resp.PaymentID = tx.PaymentID.String()
	}
	if tx.PackageID != nil {
		resp.PackageID = tx.PackageID.String()
	}
	if tx.CreatedBy != nil {
		resp.CreatedBy = *tx.CreatedBy
	}
	return resp
}
