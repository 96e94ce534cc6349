package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type MembershipClient struct {
	baseClient
}

func NewMembershipClient(baseURL string, httpClient *http.Client) *MembershipClient {
	return &MembershipClient{baseClient: newBaseClient("membership", baseURL, httpClient)}
}

func (c *MembershipClient) RegisterUser(ctx context.Context, name, email, userType string) (*User, error) {
	req := struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Type  string `json:"type,omitempty"`
	}{Name: name, Email: email, Type: userType}

	var user User
	if err := c.do(ctx, http.MethodPost, "/users", req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *MembershipClient) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/users/"+id.String(), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
