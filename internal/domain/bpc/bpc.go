// Package bpc models the live work queue of a bordereau processing clerk
// (BPC): the bordereau currently assigned to the clerk, the clerk's working
// status, and the push notifications that move both.
package bpc

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ChannelPrefix is the prefix of the per-clerk push channel.
const ChannelPrefix = "bpc"

// StatusCacheKey is the fixed cache key of the current status record.
const StatusCacheKey = "bpc:status:current"

// bordereauCacheKeyPrefix prefixes the per-subscriber current bordereau key.
const bordereauCacheKeyPrefix = "bpc:bordereau:"

// Role classifies console users.
type Role int

const (
	RoleAdmin           Role = 1
	RoleSupervisor      Role = 2
	RoleProcessingClerk Role = 3
)

// String returns a readable role name.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleSupervisor:
		return "supervisor"
	case RoleProcessingClerk:
		return "processing_clerk"
	default:
		return "role_" + strconv.Itoa(int(r))
	}
}

// ChannelName returns the push channel of a clerk: "bpc.<id>".
func ChannelName(id int64) string {
	return fmt.Sprintf("%s.%d", ChannelPrefix, id)
}

// BordereauCacheKey returns the cache key holding the current bordereau of
// one subscriber.
func BordereauCacheKey(subscriberID int64) string {
	return bordereauCacheKeyPrefix + strconv.FormatInt(subscriberID, 10)
}

// Status is a clerk working status (e.g. "Processing", "Paused").
type Status struct {
	ID    int64  `json:"id"`
	Name  string `json:"status"`
	Color string `json:"color,omitempty"`
}

// StatusRecord is the cached status-bearing record of the signed-in clerk.
type StatusRecord struct {
	ID            int64     `json:"id"`
	BpcStatusID   int64     `json:"bpc_status_id"`
	BpcStatus     *Status   `json:"bpc_status,omitempty"`
	UserID        int64     `json:"user_id,omitempty"`
	BordereauID   int64     `json:"bordereau_id,omitempty"`
	BordereauName string    `json:"bordereau_name,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// MergeStatus overwrites the status fields of the record with s and leaves
// every other field as it was.
func (r *StatusRecord) MergeStatus(s Status) {
	st := s
	r.ID = s.ID
	r.BpcStatusID = s.ID
	r.BpcStatus = &st
}

// Bordereau is the snapshot of one bordereau as pushed to or fetched for a
// clerk.
type Bordereau struct {
	ID           int64           `json:"id"`
	Name         string          `json:"bordereau_name"`
	Reference    string          `json:"reference,omitempty"`
	Insurer      string          `json:"insurer,omitempty"`
	StatusLabel  string          `json:"status,omitempty"`
	TotalPremium decimal.Decimal `json:"total_premium" swaggertype:"string" example:"1250.00"`
	Currency     string          `json:"currency,omitempty"`
	RowCount     int             `json:"row_count,omitempty"`
	ReceivedAt   *time.Time      `json:"received_at,omitempty"`
	AssignedTo   *int64          `json:"assigned_to,omitempty"`
}

// Payload is the body of a clerk notification. Both fields are optional.
type Payload struct {
	Bordereau *Bordereau `json:"bordereau,omitempty"`
	Status    *Status    `json:"bpcStatus,omitempty"`
}

// Envelope is the wire shape of a clerk notification event.
type Envelope struct {
	Payload Payload `json:"payload"`
}
