package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/inovacc/deploywatch/internal/model"
)

// User is the account behind a token
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// GetUser returns the account the token belongs to.
func (c *Client) GetUser(ctx context.Context, conn *model.Connection) (*User, error) {
	var resp struct {
		User User `json:"user"`
	}

	if err := c.Get(ctx, conn, "/v2/user", &resp); err != nil {
		return nil, err
	}

	return &resp.User, nil
}

// ListTeams returns the teams visible to conn.
func (c *Client) ListTeams(ctx context.Context, conn *model.Connection) ([]model.Team, error) {
	var resp struct {
		Teams []model.Team `json:"teams"`
	}

	if err := c.Get(ctx, conn, "/v2/teams", &resp); err != nil {
		return nil, err
	}

	return resp.Teams, nil
}

// GetTeam returns a single team.
func (c *Client) GetTeam(ctx context.Context, conn *model.Connection, teamID string) (*model.Team, error) {
	var team model.Team

	if err := c.Get(ctx, conn, "/v2/teams/"+url.PathEscape(teamID), &team); err != nil {
		return nil, err
	}

	return &team, nil
}

// ListProjects returns the projects of a team.
func (c *Client) ListProjects(ctx context.Context, conn *model.Connection, teamID string) ([]model.Project, error) {
	var resp struct {
		Projects []model.Project `json:"projects"`
	}

	path := fmt.Sprintf("/v9/projects?%s", url.Values{"teamId": {teamID}}.Encode())

	if err := c.Get(ctx, conn, path, &resp); err != nil {
		return nil, err
	}

	return resp.Projects, nil
}

// CacheControl returns the raw cache-control document.
func (c *Client) CacheControl(ctx context.Context, conn *model.Connection) ([]byte, error) {
	var raw []byte

	if err := c.Get(ctx, conn, CacheControlPath, &raw); err != nil {
		return nil, err
	}

	return raw, nil
}
