package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// PaymentType classifies a ledger row
type PaymentType string

const (
	PaymentTypePayment    PaymentType = "payment"
	PaymentTypeRefund     PaymentType = "refund"
	PaymentTypeAdjustment PaymentType = "adjustment"
)

// PaymentDetails records what a ledger row was for
type PaymentDetails struct {
	TripID  string   `json:"tripId,omitempty"`
	Route   string   `json:"route,omitempty"`
	SeatIDs []string `json:"seatIds,omitempty"`
	Labels  []string `json:"labels,omitempty"`
	Source  string   `json:"source,omitempty"`
}

// Value implements the driver.Valuer interface
func (d PaymentDetails) Value() (driver.Value, error) {
	bytes, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (d *PaymentDetails) Scan(value interface{}) error {
	*d = PaymentDetails{}
	return scanJSON(value, d)
}

// Payment is one immutable ledger row. TotalAmount is signed: refunds are negative.
type Payment struct {
	ID             string         `json:"id" db:"id"`
	BookingID      string         `json:"bookingId" db:"booking_id"`
	TotalAmount    float64        `json:"totalAmount" db:"total_amount"`
	CashAmount     float64        `json:"cashAmount" db:"cash_amount"`
	TransferAmount float64        `json:"transferAmount" db:"transfer_amount"`
	Type           PaymentType    `json:"type" db:"type"`
	Note           string         `json:"note" db:"note"`
	Details        PaymentDetails `json:"details" db:"details"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
}

// CompensatingPaymentRequest asks for a manual ledger correction.
// Positive amounts top up a shortfall, negative amounts refund an overpayment.
type CompensatingPaymentRequest struct {
	Amount float64 `json:"amount" binding:"required"`
	Method string  `json:"method"`
	Note   string  `json:"note"`
}

// QRPaymentLine is one seat settled by a QR transfer
type QRPaymentLine struct {
	TripID string  `json:"tripId" binding:"required"`
	SeatID string  `json:"seatId" binding:"required"`
	Amount float64 `json:"amount" binding:"gt=0"`
}

// QRPaymentRequest opens a QR transfer for some seats of a booking
type QRPaymentRequest struct {
	Lines []QRPaymentLine `json:"lines" binding:"required,min=1,dive"`
}
