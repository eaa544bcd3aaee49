// Package rest implements resource operations on top of a rate-limited requester.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/luciancaetano/kephascord"
)

// Client issues resource operations through a Requester, which owns rate
// limiting and retries.
type Client struct {
	requester kephascord.Requester
	logger    *zap.Logger

	mu            sync.Mutex
	applicationID string
}

// NewClient returns a client submitting to r.
func NewClient(r kephascord.Requester, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		requester: r,
		logger:    logger.With(zap.String("component", "rest")),
	}
}

// GetGatewayBot returns the gateway URL and session start limits for the bot.
func (c *Client) GetGatewayBot(ctx context.Context) (*GatewayBot, error) {
	var out GatewayBot
	route := kephascord.NewRoute("/gateway/bot", "")
	if err := c.do(ctx, route, http.MethodGet, "/gateway/bot", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCurrentApplication returns the bot's application.
func (c *Client) GetCurrentApplication(ctx context.Context) (*Application, error) {
	var out Application
	route := kephascord.NewRoute("/applications/@me", "")
	if err := c.do(ctx, route, http.MethodGet, "/applications/@me", nil, &out); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.applicationID = out.ID
	c.mu.Unlock()

	return &out, nil
}

// ApplicationID returns the bot's application id, looking it up once.
func (c *Client) ApplicationID(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.applicationID
	c.mu.Unlock()

	if id != "" {
		return id, nil
	}

	app, err := c.GetCurrentApplication(ctx)
	if err != nil {
		return "", err
	}
	return app.ID, nil
}

// GetGlobalApplicationCommand returns one global command of the application.
func (c *Client) GetGlobalApplicationCommand(ctx context.Context, commandID string) (*ApplicationCommand, error) {
	appID, err := c.ApplicationID(ctx)
	if err != nil {
		return nil, err
	}

	var out ApplicationCommand
	route := kephascord.NewRoute("/applications/{application.id}/commands/{command.id}", "")
	path := fmt.Sprintf("/applications/%s/commands/%s", url.PathEscape(appID), url.PathEscape(commandID))
	if err := c.do(ctx, route, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListGlobalApplicationCommands returns the application's global commands.
func (c *Client) ListGlobalApplicationCommands(ctx context.Context) ([]ApplicationCommand, error) {
	appID, err := c.ApplicationID(ctx)
	if err != nil {
		return nil, err
	}

	var out []ApplicationCommand
	route := kephascord.NewRoute("/applications/{application.id}/commands", "")
	path := fmt.Sprintf("/applications/%s/commands", url.PathEscape(appID))
	if err := c.do(ctx, route, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateGlobalApplicationCommand creates a global command. A command with the
// same name as an existing one overwrites it.
func (c *Client) CreateGlobalApplicationCommand(ctx context.Context, cmd *ApplicationCommand) (*ApplicationCommand, error) {
	appID, err := c.ApplicationID(ctx)
	if err != nil {
		return nil, err
	}

	var out ApplicationCommand
	route := kephascord.NewRoute("/applications/{application.id}/commands", "")
	path := fmt.Sprintf("/applications/%s/commands", url.PathEscape(appID))
	if err := c.do(ctx, route, http.MethodPost, path, cmd, &out); err != nil {
		return nil, err
	}

	c.logger.Info("application command created", zap.String("name", out.Name), zap.String("id", out.ID))
	return &out, nil
}

// CreateMessage posts a message to a channel.
func (c *Client) CreateMessage(ctx context.Context, channelID string, params *CreateMessageParams) (*Message, error) {
	var out Message
	route := kephascord.NewRoute("/channels/{channel.id}/messages", channelID)
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channelID))
	if err := c.do(ctx, route, http.MethodPost, path, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateInteractionResponse answers an interaction.
func (c *Client) CreateInteractionResponse(ctx context.Context, interactionID, token string, resp *InteractionResponse) error {
	route := kephascord.NewRoute("/interactions/{interaction.id}/{interaction.token}/callback", interactionID)
	path := fmt.Sprintf("/interactions/%s/%s/callback", url.PathEscape(interactionID), url.PathEscape(token))
	return c.do(ctx, route, http.MethodPost, path, resp, nil)
}

// do submits a request and decodes the response body into out when non-nil.
func (c *Client) do(ctx context.Context, route kephascord.Route, method, path string, body, out any) error {
	op := method + " " + route.Path

	req := &kephascord.Request{
		Route:  route,
		Method: method,
		Path:   path,
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return kephascord.Wrap(kephascord.ClassTerminalRequest, op, fmt.Errorf("encode body: %w", err))
		}
		req.Body = data
		req.Header = http.Header{"Content-Type": []string{"application/json"}}
	}

	resp, err := c.requester.Submit(req).Wait(ctx)
	if err != nil {
		return err
	}

	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := resp.JSON(out); err != nil {
		return kephascord.Wrap(kephascord.ClassDecode, op, err)
	}
	return nil
}
