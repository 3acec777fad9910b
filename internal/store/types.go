package store

// DeliveryState tracks whether a locally created message has been
// accepted by the remote message store.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryConfirmed DeliveryState = "confirmed"
)

// Message is one entry in a conversation log. ID is generated locally
// at send time and stays stable across retries; CreatedAt is the
// display timestamp formatted at creation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Text           string
	CreatedAt      string
	DeliveryState  DeliveryState
}
