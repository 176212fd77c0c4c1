package firebase

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"hadydotai/beacon/escalation"
)

type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Notifier sends escalation alerts through Cloud Messaging as high priority
// notifications.
type Notifier struct {
	client messageSender
}

func NewNotifier(client messageSender) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) Send(ctx context.Context, token string, msg escalation.Notification) error {
	_, err := n.client.Send(ctx, &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	})
	if err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("firebase: token no longer registered: %w", err)
		}
		return fmt.Errorf("firebase: send notification: %w", err)
	}
	return nil
}
