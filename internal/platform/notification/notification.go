// Package notification renders and delivers booking emails and SMS messages.
// Messages are queued after the booking transaction commits and delivered by
// background workers, so a slow or failing provider never affects a booking.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Channel is the transport a template is delivered over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Template ids used by the booking flows.
const (
	TemplateBookingConfirmation  = "booking-confirmation"
	TemplateDoctorNewAppointment = "doctor-new-appointment"
	TemplateDoctorNewSMS         = "doctor-new-appointment-sms"
	TemplateCancelledPatient     = "appointment-cancelled-patient"
	TemplateCancelledDoctor      = "appointment-cancelled-doctor"
	TemplatePrescription         = "prescription"
)

var (
	ErrUnknownTemplate    = errors.New("unknown notification template")
	ErrChannelUnavailable = errors.New("notification channel not configured")
	ErrQueueFull          = errors.New("notification queue is full")
)

// Message is one queued notification. It carries template data rather than
// rendered text so it can be serialized onto an external queue.
type Message struct {
	ID            string            `json:"id"`
	Template      string            `json:"template"`
	Recipient     string            `json:"recipient"`
	RecipientName string            `json:"recipient_name,omitempty"`
	Data          map[string]string `json:"data"`
}

// Queue accepts messages for asynchronous delivery.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
}

// Deliverer renders and sends a single message.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

// Permanent reports whether retrying delivery of err cannot succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrUnknownTemplate) || errors.Is(err, ErrChannelUnavailable)
}

// Attachment is a file sent alongside an email.
type Attachment struct {
	Name string
	Data []byte
}

// Email is a fully rendered email.
type Email struct {
	To          string
	ToName      string
	Subject     string
	Body        string
	Attachments []Attachment
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, email Email) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

type attachmentKind string

const attachPrescriptionPDF attachmentKind = "prescription-pdf"

// Template defines a reusable notification template.
type Template struct {
	ID      string
	Channel Channel
	Subject string
	Body    string
	attach  attachmentKind
}

// TemplateEngine renders {{key}} placeholders in the booking templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the booking templates registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range builtIn {
		e.RegisterTemplate(t)
	}
	return e
}

var builtIn = []Template{
	{
		ID:      TemplateBookingConfirmation,
		Channel: ChannelEmail,
		Subject: "Appointment confirmed with Dr. {{doctor_name}}",
		Body: "Dear {{patient_name}},\n\nYour appointment is confirmed.\n\n" +
			"Doctor: Dr. {{doctor_name}} ({{specialization}})\nDate: {{date}}\nTime: {{time}}\n" +
			"Reason: {{reason}}\nAppointment ID: {{appointment_id}}\n\n" +
			"Please arrive 10 minutes early.",
	},
	{
		ID:      TemplateDoctorNewAppointment,
		Channel: ChannelEmail,
		Subject: "New appointment: {{patient_name}} on {{date}} at {{time}}",
		Body: "Dr. {{doctor_name}},\n\nA new appointment was booked.\n\n" +
			"Patient: {{patient_name}}\nDate: {{date}}\nTime: {{time}}\nReason: {{reason}}\n" +
			"Appointment ID: {{appointment_id}}",
	},
	{
		ID:      TemplateDoctorNewSMS,
		Channel: ChannelSMS,
		Body:    "New appointment: {{patient_name}} on {{date}} at {{time}}.",
	},
	{
		ID:      TemplateCancelledPatient,
		Channel: ChannelEmail,
		Subject: "Appointment cancelled: {{date}} at {{time}}",
		Body: "Dear {{patient_name}},\n\nYour appointment with Dr. {{doctor_name}} on {{date}} at {{time}} " +
			"has been cancelled.\n\nAppointment ID: {{appointment_id}}",
	},
	{
		ID:      TemplateCancelledDoctor,
		Channel: ChannelEmail,
		Subject: "Appointment cancelled: {{patient_name}} on {{date}} at {{time}}",
		Body: "Dr. {{doctor_name}},\n\nThe appointment with {{patient_name}} on {{date}} at {{time}} " +
			"has been cancelled. The slot is available again.\n\nAppointment ID: {{appointment_id}}",
	},
	{
		ID:      TemplatePrescription,
		Channel: ChannelEmail,
		Subject: "Your prescription from Dr. {{doctor_name}}",
		Body: "Dear {{patient_name}},\n\nYour consultation on {{date}} is complete. " +
			"Your prescription is attached.\n\nNotes: {{prescription_notes}}\nMedications: {{medications}}",
		attach: attachPrescriptionPDF,
	},
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

func (e *TemplateEngine) get(id string) (*Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	return t, ok
}

// Render performs {{key}} replacement. Keys absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	t, ok := e.get(templateID)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), r.Replace(t.Body), nil
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager renders messages and hands them to the configured senders. It keeps
// per-template delivery counters.
type Manager struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
	logger    zerolog.Logger

	mu    sync.Mutex
	stats map[string]*DeliveryStats
}

// DeliveryStats counts outcomes for one template.
type DeliveryStats struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// NewManager constructs a Manager. sms may be nil when SMS is not configured.
func NewManager(email EmailSender, sms SMSSender, tpl *TemplateEngine, logger zerolog.Logger) *Manager {
	return &Manager{
		email:     email,
		sms:       sms,
		templates: tpl,
		logger:    logger,
		stats:     make(map[string]*DeliveryStats),
	}
}

// Deliver renders msg and sends it over the template's channel.
func (m *Manager) Deliver(ctx context.Context, msg Message) error {
	err := m.deliver(ctx, msg)
	m.record(msg.Template, err)
	if err != nil {
		return fmt.Errorf("deliver %s to %s: %w", msg.Template, msg.Recipient, err)
	}
	m.logger.Debug().Str("message_id", msg.ID).Str("template", msg.Template).Msg("notification sent")
	return nil
}

func (m *Manager) deliver(ctx context.Context, msg Message) error {
	t, ok := m.templates.get(msg.Template)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, msg.Template)
	}
	subject, body, err := m.templates.Render(msg.Template, msg.Data)
	if err != nil {
		return err
	}

	switch t.Channel {
	case ChannelEmail:
		if m.email == nil {
			return ErrChannelUnavailable
		}
		email := Email{To: msg.Recipient, ToName: msg.RecipientName, Subject: subject, Body: body}
		if t.attach == attachPrescriptionPDF {
			pdf, err := RenderPrescriptionPDF(PrescriptionFromData(msg.Data))
			if err != nil {
				return fmt.Errorf("render prescription pdf: %w", err)
			}
			email.Attachments = append(email.Attachments, Attachment{
				Name: "prescription-" + msg.Data["appointment_id"] + ".pdf",
				Data: pdf,
			})
		}
		return m.email.SendEmail(ctx, email)
	case ChannelSMS:
		if m.sms == nil {
			return ErrChannelUnavailable
		}
		return m.sms.SendSMS(ctx, msg.Recipient, body)
	default:
		return fmt.Errorf("unsupported channel %q", t.Channel)
	}
}

func (m *Manager) record(template string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[template]
	if !ok {
		s = &DeliveryStats{}
		m.stats[template] = s
	}
	if err != nil {
		s.Failed++
	} else {
		s.Sent++
	}
}

// Stats returns a snapshot of the delivery counters keyed by template.
func (m *Manager) Stats() map[string]DeliveryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]DeliveryStats, len(m.stats))
	for k, v := range m.stats {
		out[k] = *v
	}
	return out
}

// Templates lists the registered template ids.
func (m *Manager) Templates() []string {
	m.templates.mu.RLock()
	defer m.templates.mu.RUnlock()
	ids := make([]string, 0, len(m.templates.templates))
	for id := range m.templates.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

// Handler exposes delivery counters to administrators.
type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

// RegisterRoutes registers the notification routes on an admin-only group.
func (h *Handler) RegisterRoutes(admin *echo.Group) {
	admin.GET("/notifications/stats", h.HandleStats)
}

// HandleStats handles GET /notifications/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"templates": h.manager.Templates(),
		"delivery":  h.manager.Stats(),
	})
}
