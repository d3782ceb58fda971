package pdf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateEnrollment(t *testing.T) {
	g := NewEnrollmentGenerator()

	out, err := g.GenerateEnrollment(EnrollmentData{
		Name:      "Aruzhan S",
		Email:     "aruzhan@example.com",
		Role:      "student",
		Country:   "Kazakhstan",
		Grade:     6,
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, "%PDF", string(out[:4]))
}

func TestGenerateEnrollmentWithoutGrade(t *testing.T) {
	g := NewEnrollmentGenerator()

	// у взрослых ролей класса нет, строка просто опускается
	out, err := g.GenerateEnrollment(EnrollmentData{
		Name:      "Jane D",
		Email:     "jane@example.com",
		Role:      "parent",
		Country:   "Canada",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
