package endpoints

import (
	"github.com/slack-go/slack"

	"github.com/meishi-bot/meishi/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// SlackClient downloads shared files and deletes thread messages.
	SlackClient *slack.Client
	// SigningSecret verifies Slack request signatures.
	SigningSecret string
	// MaxImages caps the batch size for uploads and file shares.
	MaxImages int
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoint
		&HealthEndpoint{},

		// Card endpoints
		&UploadEndpoint{MaxImages: cfg.MaxImages},
		&ConfirmEndpoint{},

		// Slack endpoints
		&SlackEventsEndpoint{
			Client:        cfg.SlackClient,
			SigningSecret: cfg.SigningSecret,
			MaxImages:     cfg.MaxImages,
		},
		&SlackInteractionsEndpoint{
			Client:        cfg.SlackClient,
			SigningSecret: cfg.SigningSecret,
		},
	}
}
