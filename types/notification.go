package types

import "time"

// NotificationType identifies why a notification was sent.
type NotificationType string

const (
	NotificationFormSubmission NotificationType = "form_submission"
	NotificationFormApproved   NotificationType = "form_approved"
	NotificationFormRejected   NotificationType = "form_rejected"
)

// Notification is a message delivered to a single recipient as a side
// effect of an achievement changing state.
type Notification struct {
	ID            int              `json:"id" db:"id"`
	RecipientID   int              `json:"recipientId" db:"recipient_id"`
	SenderID      int              `json:"senderId,omitempty" db:"sender_id"`
	Type          NotificationType `json:"type" db:"type"`
	Message       string           `json:"message" db:"message"`
	AchievementID int              `json:"achievementId,omitempty" db:"achievement_id"`
	// EventID is the event that produced the notification. Together with
	// RecipientID it is unique, so a redelivered event adds nothing.
	EventID       string           `json:"-" db:"event_id"`
	IsRead        bool             `json:"isRead" db:"is_read"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
}

// EventType names the achievement lifecycle events emitted after a commit.
type EventType string

const (
	EventAchievementSubmitted EventType = "achievement.submitted"
	EventAchievementReviewed  EventType = "achievement.reviewed"
)

// Event is emitted once an achievement creation or transition has been
// committed. It is the payload of post-transition hooks and of the
// message broker channel.
type Event struct {
	ID          string      `json:"id"`
	Type        EventType   `json:"type"`
	Achievement Achievement `json:"achievement"`
	From        Status      `json:"from,omitempty"`
	ActorID     int         `json:"actorId"`
	OccurredAt  time.Time   `json:"occurredAt"`
}
