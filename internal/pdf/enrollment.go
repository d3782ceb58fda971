package pdf

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Generator — интерфейс (удобно мокать в тестах)
type Generator interface {
	GenerateEnrollment(data EnrollmentData) ([]byte, error)
}

type EnrollmentData struct {
	Name      string
	Email     string
	Role      string
	Country   string
	Grade     int
	CreatedAt time.Time
}

// EnrollmentGenerator — одностраничная сводка регистрации,
// прикладывается к приветственному письму.
type EnrollmentGenerator struct{}

var _ Generator = (*EnrollmentGenerator)(nil)

func NewEnrollmentGenerator() *EnrollmentGenerator {
	return &EnrollmentGenerator{}
}

func (g *EnrollmentGenerator) GenerateEnrollment(data EnrollmentData) ([]byte, error) {
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 18)
	doc.CellFormat(0, 12, "Studyline Enrollment Summary", "", 1, "C", false, 0, "")
	doc.Ln(6)

	doc.SetFont("Helvetica", "", 12)
	rows := [][2]string{
		{"Name", data.Name},
		{"Email", data.Email},
		{"Role", data.Role},
		{"Country", data.Country},
	}
	if data.Grade > 0 {
		rows = append(rows, [2]string{"Grade", fmt.Sprintf("%d", data.Grade)})
	}
	rows = append(rows, [2]string{"Registered", data.CreatedAt.Format("2006-01-02")})

	for _, row := range rows {
		doc.SetFont("Helvetica", "B", 12)
		doc.CellFormat(40, 8, row[0], "", 0, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 12)
		doc.CellFormat(0, 8, row[1], "", 1, "L", false, 0, "")
	}

	doc.Ln(8)
	doc.SetFont("Helvetica", "I", 10)
	doc.MultiCell(0, 5, "Keep this document for your records. You can sign in with your email and password on any device.", "", "L", false)

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("enrollment pdf: %w", err)
	}
	return buf.Bytes(), nil
}
