package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type CirculationClient struct {
	baseClient
}

func NewCirculationClient(baseURL string, httpClient *http.Client) *CirculationClient {
	return &CirculationClient{baseClient: newBaseClient("circulation", baseURL, httpClient)}
}

func (c *CirculationClient) CreateLoan(ctx context.Context, bookID, userID uuid.UUID) (*Loan, error) {
	req := struct {
		BookID uuid.UUID `json:"book_id"`
		UserID uuid.UUID `json:"user_id"`
	}{BookID: bookID, UserID: userID}

	var loan Loan
	if err := c.do(ctx, http.MethodPost, "/loans", req, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

// ReturnBook returns a loan. An empty returnDate means now.
func (c *CirculationClient) ReturnBook(ctx context.Context, loanID uuid.UUID, returnDate string) (*ReturnResult, error) {
	req := struct {
		ReturnDate string `json:"return_date,omitempty"`
	}{ReturnDate: returnDate}

	var result ReturnResult
	if err := c.do(ctx, http.MethodPost, "/loans/"+loanID.String()+"/return", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *CirculationClient) GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error) {
	var loan Loan
	if err := c.do(ctx, http.MethodGet, "/loans/"+id.String(), nil, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *CirculationClient) GetUserLoans(ctx context.Context, userID uuid.UUID) ([]Loan, error) {
	var loans []Loan
	if err := c.do(ctx, http.MethodGet, "/users/"+userID.String()+"/loans", nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

func (c *CirculationClient) History(ctx context.Context, loanID uuid.UUID) ([]LoanEvent, error) {
	var events []LoanEvent
	if err := c.do(ctx, http.MethodGet, "/loans/"+loanID.String()+"/history", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *CirculationClient) GetBookLoans(ctx context.Context, bookID uuid.UUID) ([]Loan, error) {
	var loans []Loan
	if err := c.do(ctx, http.MethodGet, "/books/"+bookID.String()+"/loans", nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}
