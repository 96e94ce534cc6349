package catalog

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"lendinghub/internal/apperr"
)

func details() BookDetails {
	return BookDetails{
		ISBN:            MustISBN("9780141439518"),
		Title:           "Pride and Prejudice",
		Author:          "Jane Austen",
		PublicationYear: 1813,
		Category:        "fiction",
	}
}

func TestNewBookStartsFullyAvailable(t *testing.T) {
	book, err := NewBook(uuid.New(), details(), 3)
	require.NoError(t, err)

	assert.Equal(t, 3, book.AvailableCopies())
	assert.Equal(t, 3, book.TotalCopies)
	assert.True(t, book.HasAvailableCopies())
	assert.Equal(t, 0, book.OnLoan())
	assert.Equal(t, 1, book.Version)
}

func TestRestoreBookValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*BookDetails)
		total     int
		available int
	}{
		{name: "negative total", total: -1, available: 0},
		{name: "available above total", total: 2, available: 3},
		{name: "negative available", total: 2, available: -1},
		{name: "missing title", mutate: func(d *BookDetails) { d.Title = "  " }, total: 1, available: 1},
		{name: "missing isbn", mutate: func(d *BookDetails) { d.ISBN = ISBN{} }, total: 1, available: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := details()
			if tt.mutate != nil {
				tt.mutate(&d)
			}
			_, err := RestoreBook(uuid.New(), d, tt.total, tt.available)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestZeroCopyBookIsValidButUnavailable(t *testing.T) {
	book, err := NewBook(uuid.New(), details(), 0)
	require.NoError(t, err)
	assert.False(t, book.HasAvailableCopies())
}

func TestDecreaseAvailableCopies(t *testing.T) {
	book, err := NewBook(uuid.New(), details(), 1)
	require.NoError(t, err)

	require.NoError(t, book.DecreaseAvailableCopies())
	assert.Equal(t, 0, book.AvailableCopies())
	assert.False(t, book.HasAvailableCopies())

	err = book.DecreaseAvailableCopies()
	assert.ErrorIs(t, err, apperr.ErrInvariantViolation)
	assert.Equal(t, 0, book.AvailableCopies(), "failed decrease leaves the count alone")
}

func TestIncreaseAvailableCopies(t *testing.T) {
	book, err := RestoreBook(uuid.New(), details(), 2, 1)
	require.NoError(t, err)

	require.NoError(t, book.IncreaseAvailableCopies())
	assert.Equal(t, 2, book.AvailableCopies())

	err = book.IncreaseAvailableCopies()
	assert.ErrorIs(t, err, apperr.ErrInvariantViolation)
	assert.Equal(t, 2, book.AvailableCopies())
}

func TestCopyCountsStayInBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(0, 8).Draw(t, "total")
		book, err := NewBook(uuid.New(), details(), total)
		if err != nil {
			t.Fatalf("new book: %v", err)
		}

		ops := rapid.SliceOf(rapid.Bool()).Draw(t, "borrow")
		for _, borrow := range ops {
			before := book.AvailableCopies()
			if borrow {
				err = book.DecreaseAvailableCopies()
				if (err == nil) != (before > 0) {
					t.Fatalf("decrease from %d returned %v", before, err)
				}
			} else {
				err = book.IncreaseAvailableCopies()
				if (err == nil) != (before < total) {
					t.Fatalf("increase from %d/%d returned %v", before, total, err)
				}
			}
			if got := book.AvailableCopies(); got < 0 || got > book.TotalCopies {
				t.Fatalf("available %d outside [0, %d]", got, book.TotalCopies)
			}
		}
	})
}

func TestBookJSONIncludesAvailableCopies(t *testing.T) {
	book, err := RestoreBook(uuid.New(), details(), 4, 1)
	require.NoError(t, err)

	out, err := book.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"available_copies":1`)
	assert.Contains(t, string(out), `"isbn":"9780141439518"`)
}
