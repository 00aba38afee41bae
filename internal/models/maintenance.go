package models

// MaintenanceAction names what a reconciliation job did to one record
type MaintenanceAction string

const (
	ActionGhostReleased   MaintenanceAction = "ghost_released"
	ActionDuplicateKept   MaintenanceAction = "duplicate_kept"
	ActionDuplicateFreed  MaintenanceAction = "duplicate_released"
	ActionStatusSynced    MaintenanceAction = "sync"
	ActionPaymentDeleted  MaintenanceAction = "payment_deleted"
	ActionTotalFixed      MaintenanceAction = "total_fixed"
	ActionMismatch        MaintenanceAction = "mismatch"
	ActionWriteConflict   MaintenanceAction = "write_conflict"
	ActionBookingCanceled MaintenanceAction = "booking_cancelled"
)

// MaintenanceLog is one operator-facing audit entry
type MaintenanceLog struct {
	TripID      string            `json:"tripId,omitempty"`
	BookingID   string            `json:"bookingId,omitempty"`
	BookingCode string            `json:"bookingCode,omitempty"`
	Route       string            `json:"route"`
	Date        string            `json:"date"`
	SeatID      string            `json:"seatId,omitempty"`
	SeatLabel   string            `json:"seatLabel,omitempty"`
	Action      MaintenanceAction `json:"action"`
	Detail      string            `json:"detail"`
	Delta       float64           `json:"delta,omitempty"`
}

// FixSeatsResult is the output of the seat reconciliation job
type FixSeatsResult struct {
	Logs          []MaintenanceLog `json:"logs"`
	FixedCount    int              `json:"fixedCount"`
	SyncCount     int              `json:"syncCount"`
	ConflictCount int              `json:"conflictCount"`
}

// FixPaymentsResult is the output of the payment reconciliation job
type FixPaymentsResult struct {
	Logs          []MaintenanceLog `json:"logs"`
	DeletedCount  int              `json:"deletedCount"`
	FixedCount    int              `json:"fixedCount"`
	MismatchCount int              `json:"mismatchCount"`
	ConflictCount int              `json:"conflictCount"`
}
