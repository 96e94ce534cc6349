package catalog

import (
	"strings"

	"lendinghub/internal/apperr"
)

// ISBN is a validated ISBN-10 or ISBN-13 without separators.
type ISBN struct {
	value string
}

// NewISBN normalizes raw (dropping spaces and hyphens) and verifies the
// digit pattern and checksum.
func NewISBN(raw string) (ISBN, error) {
	normalized := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(strings.TrimSpace(raw)))

	switch len(normalized) {
	case 10:
		if !validISBN10(normalized) {
			return ISBN{}, apperr.Validation("invalid ISBN-10 %q", raw)
		}
	case 13:
		if !validISBN13(normalized) {
			return ISBN{}, apperr.Validation("invalid ISBN-13 %q", raw)
		}
	default:
		return ISBN{}, apperr.Validation("invalid ISBN %q: expected 10 or 13 digits", raw)
	}
	return ISBN{value: normalized}, nil
}

// MustISBN is NewISBN for literals known to be valid. It panics otherwise.
func MustISBN(raw string) ISBN {
	isbn, err := NewISBN(raw)
	if err != nil {
		panic(err)
	}
	return isbn
}

func (i ISBN) Value() string  { return i.value }
func (i ISBN) String() string { return i.value }
func (i ISBN) IsZero() bool   { return i.value == "" }

func (i ISBN) MarshalText() ([]byte, error) {
	return []byte(i.value), nil
}

func (i *ISBN) UnmarshalText(text []byte) error {
	parsed, err := NewISBN(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// validISBN10: weights 10..1, sum divisible by 11, X (=10) only last.
func validISBN10(s string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		c := s[i]
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c == 'X' && i == 9:
			d = 10
		default:
			return false
		}
		sum += d * (10 - i)
	}
	return sum%11 == 0
}

// validISBN13: weights alternate 1,3, sum divisible by 10.
func validISBN13(s string) bool {
	sum := 0
	for i := 0; i < 13; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return sum%10 == 0
}
