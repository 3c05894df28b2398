package bpc

import (
	"fmt"
	"strconv"
)

// ToastAction is the single navigation action offered by a toast.
type ToastAction struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

// Toast is a one-shot user notification.
type Toast struct {
	SubscriberID int64       `json:"subscriber_id"`
	EntityID     int64       `json:"entity_id"`
	Title        string      `json:"title"`
	Message      string      `json:"message"`
	Action       ToastAction `json:"action"`
}

// NewAssignmentToast builds the toast raised when a new bordereau lands in a
// clerk's queue.
func NewAssignmentToast(subscriberID int64, b *Bordereau) Toast {
	name := b.Name
	if name == "" {
		name = "#" + strconv.FormatInt(b.ID, 10)
	}
	return Toast{
		SubscriberID: subscriberID,
		EntityID:     b.ID,
		Title:        "New bordereau assigned",
		Message:      fmt.Sprintf("Bordereau %s is ready for processing.", name),
		Action: ToastAction{
			Label: "Open",
			Href:  "/bordereaux/" + strconv.FormatInt(b.ID, 10),
		},
	}
}
