package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/inovacc/deploywatch/internal/model"
)

const webhooksPath = "/v1/webhooks"

type webhookRequest struct {
	Events    []string `json:"events"`
	PushToken string   `json:"pushToken,omitempty"`
}

func webhookPath(teamID, id string, extra url.Values) string {
	q := url.Values{"teamId": {teamID}}
	for k, v := range extra {
		q[k] = v
	}

	if id == "" {
		return fmt.Sprintf("%s?%s", webhooksPath, q.Encode())
	}

	return fmt.Sprintf("%s/%s?%s", webhooksPath, url.PathEscape(id), q.Encode())
}

func annotate(conn model.Connection, teamID string, hook *model.Webhook) {
	hook.ConnectionID = conn.ID
	if hook.TeamID == "" {
		hook.TeamID = teamID
	}

	hook.Events = model.NormalizeEvents(hook.Events)
}

// ListWebhooks returns the webhooks of a team registered for pushToken.
func (c *Client) ListWebhooks(ctx context.Context, conn model.Connection, teamID, pushToken string) ([]model.Webhook, error) {
	var hooks []model.Webhook

	path := webhookPath(teamID, "", url.Values{"pushToken": {pushToken}})
	if err := c.Get(ctx, &conn, path, &hooks); err != nil {
		return nil, err
	}

	for i := range hooks {
		annotate(conn, teamID, &hooks[i])
	}

	return hooks, nil
}

// CreateWebhook registers a webhook delivering events to pushToken.
func (c *Client) CreateWebhook(ctx context.Context, conn model.Connection, teamID, pushToken string, events []string) (*model.Webhook, error) {
	var hook model.Webhook

	body := webhookRequest{Events: model.NormalizeEvents(events), PushToken: pushToken}
	if err := c.Post(ctx, &conn, webhookPath(teamID, "", nil), body, &hook); err != nil {
		return nil, err
	}

	annotate(conn, teamID, &hook)

	return &hook, nil
}

// UpdateWebhook replaces the event set of an existing webhook.
func (c *Client) UpdateWebhook(ctx context.Context, conn model.Connection, teamID, id string, events []string) (*model.Webhook, error) {
	var hook model.Webhook

	body := webhookRequest{Events: model.NormalizeEvents(events)}
	if err := c.Patch(ctx, &conn, webhookPath(teamID, id, nil), body, &hook); err != nil {
		return nil, err
	}

	if hook.ID == "" {
		hook.ID = id
		hook.Events = body.Events
	}

	annotate(conn, teamID, &hook)

	return &hook, nil
}

// DeleteWebhook removes a webhook.
func (c *Client) DeleteWebhook(ctx context.Context, conn model.Connection, teamID, id string) error {
	return c.Delete(ctx, &conn, webhookPath(teamID, id, nil))
}
