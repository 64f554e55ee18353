package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

func userPath(id int64) string { return "/api/v1/users/" + strconv.FormatInt(id, 10) }

// ListUsers returns all users.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	out := []User{}
	if err := c.getJSON(ctx, "/api/v1/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetUser returns one user by id.
func (c *Client) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := c.getJSON(ctx, userPath(id), nil, &u)
	return u, err
}

// CreateUser validates and creates a user.
func (c *Client) CreateUser(ctx context.Context, in NewUser) (User, error) {
	if err := in.Validate(); err != nil {
		return User{}, err
	}
	var u User
	err := c.sendJSON(ctx, http.MethodPost, "/api/v1/users", nil, in, &u)
	return u, err
}

// UpdateUser validates and replaces a user record.
func (c *Client) UpdateUser(ctx context.Context, in User) (User, error) {
	if err := in.Validate(); err != nil {
		return User{}, err
	}
	var u User
	err := c.sendJSON(ctx, http.MethodPut, userPath(in.ID), nil, in, &u)
	return u, err
}

// UpdateUserPassword sets a new login password for a user.
func (c *Client) UpdateUserPassword(ctx context.Context, id int64, password string) error {
	p := Password{Password: password}
	if err := p.Validate(); err != nil {
		return err
	}
	return c.sendJSON(ctx, http.MethodPut, userPath(id)+"/password", nil, p, nil)
}

// DeleteUser deletes a user and its check-ins. The backend refuses to delete the caller.
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	if id <= 0 {
		return &ValidationError{Field: "id", Reason: "must be positive"}
	}
	return c.sendJSON(ctx, http.MethodDelete, userPath(id), nil, nil, nil)
}

// DeleteAllUsers deletes every user and check-in.
func (c *Client) DeleteAllUsers(ctx context.Context) error {
	return c.sendJSON(ctx, http.MethodDelete, "/api/v1/users", nil, nil, nil)
}

// ListUserGroups returns the distinct group names.
func (c *Client) ListUserGroups(ctx context.Context) ([]string, error) {
	out := []string{}
	if err := c.getJSON(ctx, "/api/v1/user-groups", nil, &out); err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	return out, nil
}
