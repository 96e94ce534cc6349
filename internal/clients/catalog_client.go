package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

type CatalogClient struct {
	baseClient
}

func NewCatalogClient(baseURL string, httpClient *http.Client) *CatalogClient {
	return &CatalogClient{baseClient: newBaseClient("catalog", baseURL, httpClient)}
}

type AddBookRequest struct {
	ISBN            string `json:"isbn"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	PublicationYear int    `json:"publication_year,omitempty"`
	Category        string `json:"category,omitempty"`
	TotalCopies     int    `json:"total_copies"`
}

func (c *CatalogClient) AddBook(ctx context.Context, req AddBookRequest) (*Book, error) {
	var book Book
	if err := c.do(ctx, http.MethodPost, "/books", req, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *CatalogClient) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	var book Book
	if err := c.do(ctx, http.MethodGet, "/books/"+id.String(), nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *CatalogClient) Search(ctx context.Context, query string) ([]Book, error) {
	var books []Book
	if err := c.do(ctx, http.MethodGet, "/books?q="+url.QueryEscape(query), nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *CatalogClient) CheckAvailability(ctx context.Context, id uuid.UUID) (*Availability, error) {
	var availability Availability
	if err := c.do(ctx, http.MethodGet, "/books/"+id.String()+"/availability", nil, &availability); err != nil {
		return nil, err
	}
	return &availability, nil
}

func (c *CatalogClient) RemoveBook(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/books/"+id.String(), nil, nil)
}
