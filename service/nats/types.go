package nats

import (
	"time"

	"github.com/burnerpost/creditd/service/db"
)

// CreditEvent represents a credit grant published to NATS.
// This is published to the subject "credits.{wallet_address}" in JetStream.
type CreditEvent struct {
	WalletAddress        string    `json:"wallet_address"`
	Credits              int32     `json:"credits"`
	NewBalance           int64     `json:"new_balance"`
	AmountLamports       int64     `json:"amount_lamports"`
	SolAmount            float64   `json:"sol_amount"`
	TransactionSignature string    `json:"transaction_signature"`
	PublishedAt          time.Time `json:"published_at"`
}

// FromPurchase converts an applied purchase to a CreditEvent for publishing.
func FromPurchase(purchase *db.ApplyPurchaseParams, newBalance int64) *CreditEvent {
	return &CreditEvent{
		WalletAddress:        purchase.WalletAddress,
		Credits:              purchase.Credits,
		NewBalance:           newBalance,
		AmountLamports:       purchase.AmountLamports,
		SolAmount:            purchase.SolAmount,
		TransactionSignature: purchase.TransactionSignature,
		PublishedAt:          time.Now().UTC(),
	}
}
