package notification

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Prescription is the content of the PDF attached to the prescription email.
type Prescription struct {
	AppointmentID  string
	PatientName    string
	DoctorName     string
	Specialization string
	Date           string
	Time           string
	Notes          string
	Medications    []string
}

// PrescriptionFromData reads a Prescription from message template data.
// Medications are newline separated.
func PrescriptionFromData(data map[string]string) Prescription {
	var meds []string
	for _, line := range strings.Split(data["medications"], "\n") {
		if line = strings.TrimSpace(line); line != "" {
			meds = append(meds, line)
		}
	}
	return Prescription{
		AppointmentID:  data["appointment_id"],
		PatientName:    data["patient_name"],
		DoctorName:     data["doctor_name"],
		Specialization: data["specialization"],
		Date:           data["date"],
		Time:           data["time"],
		Notes:          data["prescription_notes"],
		Medications:    meds,
	}
}

// RenderPrescriptionPDF lays out a single-page A4 prescription.
func RenderPrescriptionPDF(p Prescription) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, "Prescription", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, tr("Dr. "+p.DoctorName+" - "+p.Specialization), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	row := func(label, value string) {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(45, 9, label, "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 9, tr(value), "1", 1, "", false, 0, "")
	}
	row("Patient", p.PatientName)
	row("Date", p.Date+" "+p.Time)
	row("Appointment", p.AppointmentID)
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Medications", "B", 1, "", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	if len(p.Medications) == 0 {
		pdf.CellFormat(0, 7, "None", "", 1, "", false, 0, "")
	}
	for i, med := range p.Medications {
		pdf.MultiCell(0, 7, tr(strconv.Itoa(i+1)+". "+med), "", "L", false)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Notes", "B", 1, "", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	notes := p.Notes
	if notes == "" {
		notes = "None"
	}
	pdf.MultiCell(0, 7, tr(notes), "", "L", false)

	pdf.SetY(pdf.GetY() + 12)
	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 8, "This is a computer generated prescription", "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
