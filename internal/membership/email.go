package membership

import (
	"net/mail"
	"strings"

	"lendinghub/internal/apperr"
)

// Email is a normalized, syntactically valid e-mail address.
type Email struct {
	value string
}

// NewEmail trims and lower-cases raw and accepts only a bare address
// with a dotted domain, so "Ann <ann@example.com>" is rejected.
func NewEmail(raw string) (Email, error) {
	addr := strings.ToLower(strings.TrimSpace(raw))
	if addr == "" {
		return Email{}, apperr.Validation("email is required")
	}

	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Name != "" || parsed.Address != addr {
		return Email{}, apperr.Validation("invalid email %q", raw)
	}

	local, domain, ok := strings.Cut(addr, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return Email{}, apperr.Validation("invalid email %q", raw)
	}
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return Email{}, apperr.Validation("invalid email domain %q", domain)
	}
	return Email{value: addr}, nil
}

func (e Email) Value() string  { return e.value }
func (e Email) String() string { return e.value }
func (e Email) IsZero() bool   { return e.value == "" }

func (e Email) MarshalText() ([]byte, error) {
	return []byte(e.value), nil
}

func (e *Email) UnmarshalText(text []byte) error {
	parsed, err := NewEmail(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
