package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"crm-backend/pkg/logger"
)

// Client wraps Firebase Cloud Messaging functionality
type Client struct {
	messagingClient *messaging.Client
}

// NewClient creates a new FCM client using the provided credentials file
func NewClient(ctx context.Context, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	logger.With("fcm").Info().Msg("client initialized")
	return &Client{messagingClient: messagingClient}, nil
}

// Push is the content of one device notification.
type Push struct {
	Title string
	Body  string
	Link  string            // opened when the notification is clicked
	Data  map[string]string // custom data payload
}

// SendToDevices sends a push to every token and returns the tokens the
// service rejected so callers can prune them.
func (c *Client) SendToDevices(ctx context.Context, tokens []string, push Push) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	log := logger.With("fcm")

	webpush := &messaging.WebpushConfig{
		Notification: &messaging.WebpushNotification{
			Title: push.Title,
			Body:  push.Body,
			Icon:  "/icon-192.svg",
		},
	}
	if push.Link != "" {
		webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: push.Link}
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: push.Title,
			Body:  push.Body,
		},
		Data:    push.Data,
		Webpush: webpush,
	}

	response, err := c.messagingClient.SendEachForMulticast(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("failed to send FCM multicast message: %w", err)
	}

	log.Debug().Int("success", response.SuccessCount).Int("failure", response.FailureCount).Msg("multicast sent")

	var failedTokens []string
	for i, resp := range response.Responses {
		if !resp.Success {
			failedTokens = append(failedTokens, tokens[i])
			log.Warn().Err(resp.Error).Msg("device rejected push")
		}
	}
	return failedTokens, nil
}
