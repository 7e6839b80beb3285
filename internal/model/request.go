package model

import "time"

// RequestKind partitions broker requests into the independent token-bucket
// pools the Rate Governor maintains.
type RequestKind string

const (
	KindHistorical RequestKind = "HISTORICAL"
	KindMarket     RequestKind = "MARKET"
	KindAccount    RequestKind = "ACCOUNT"
	KindOrder      RequestKind = "ORDER"
)

// RequestStatus is the lifecycle state of a Rate Governor request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusQueued    RequestStatus = "QUEUED"
	StatusInFlight  RequestStatus = "IN_FLIGHT"
	StatusCompleted RequestStatus = "COMPLETED"
	StatusFailed    RequestStatus = "FAILED"
	StatusCancelled RequestStatus = "CANCELLED"
)

// Request is the Rate Governor's internal unit of scheduling.
type Request struct {
	ID           int64
	Kind         RequestKind
	Priority     int // 0..4, higher runs first
	Payload      any
	AttemptCount int
	FirstSeenAt  time.Time
	Status       RequestStatus
	LastError    string
}
