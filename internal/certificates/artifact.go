package certificates

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/safmarket/saf-backend/internal/flights"
	"github.com/safmarket/saf-backend/pkg/db/models"
)

const pdfContentType = "application/pdf"

// Document is a rendered certificate ready for download.
type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}

type documentLine struct {
	label string
	value string
}

// render lays the certificate out on one A4 page. Output is stable for a
// given certificate and order.
func render(cert *models.Certificate, order *models.Order) (*Document, error) {
	lines := []documentLine{
		{"Certificate number", cert.CertificateNumber},
		{"Registry id", cert.RegistryID},
		{"Flight", fmt.Sprintf("%s %s -> %s on %s", order.FlightNumber, order.DepartureAirport, order.ArrivalAirport,
			order.FlightDate.UTC().Format(flights.DateLayout))},
		{"SAF volume", cert.SAFVolumeLiters.StringFixed(1) + " L"},
		{"Carbon reduction", cert.CarbonReductionKg.StringFixed(2) + " kg CO2"},
		{"Amount paid", order.TotalPrice.Add(order.PlatformFee).StringFixed(2) + " " + strings.ToUpper(order.Currency)},
		{"Issued", cert.IssuedAt.UTC().Format(time.RFC3339)},
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(false)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(cert.IssuedAt.UTC())
	pdf.SetTitle(cert.CertificateNumber, false)
	pdf.SetCreator("saf-backend", false)
	pdf.SetMargins(20, 25, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, "Sustainable Aviation Fuel Certificate", "", 1, "C", false, 0, "")
	pdf.SetDrawColor(30, 110, 60)
	pdf.Line(20, 40, 190, 40)
	pdf.Ln(10)

	for _, line := range lines {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(55, 9, line.label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 9, line.value, "", 1, "L", false, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.MultiCell(0, 5, "Verify this certificate at /api/v1/certificates/"+cert.CertificateNumber+"/verify.", "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return &Document{
		Filename:    cert.CertificateNumber + ".pdf",
		ContentType: pdfContentType,
		Body:        buf.Bytes(),
	}, nil
}
