package certificates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/safmarket/saf-backend/internal/flights"
	"github.com/safmarket/saf-backend/internal/orders"
	"github.com/safmarket/saf-backend/pkg/db"
	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/enums"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/metrics"
	"github.com/safmarket/saf-backend/pkg/outbox"
	"github.com/safmarket/saf-backend/pkg/outbox/payloads"
)

const (
	registryDependency    = "certificate_registry"
	artifactDependency    = "artifact_store"
	defaultArtifactPrefix = "certificates"
)

// ArtifactStore keeps rendered certificates in durable storage and returns
// the location they can be fetched from.
type ArtifactStore interface {
	Upload(ctx context.Context, object, contentType string, body []byte) (string, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type orderLifecycle interface {
	GetOrder(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*models.Order, error)
	LoadOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	CompleteOrder(ctx context.Context, tx *gorm.DB, orderID, certificateID uuid.UUID) (*models.Order, error)
}

// Verification is the public answer to "is this certificate genuine".
type Verification struct {
	CertificateNumber string     `json:"certificate_number"`
	Valid             bool       `json:"valid"`
	RegistryID        string     `json:"registry_id,omitempty"`
	IssuedAt          *time.Time `json:"issued_at,omitempty"`
	SAFVolumeLiters   string     `json:"saf_volume_liters,omitempty"`
	CarbonReductionKg string     `json:"carbon_reduction_kg,omitempty"`
}

// Service issues, renders and verifies certificates.
type Service interface {
	IssueForOrder(ctx context.Context, orderID uuid.UUID) (*models.Certificate, error)
	GetForOrder(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*models.Certificate, error)
	Artifact(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*Document, error)
	Verify(ctx context.Context, number string) (*Verification, error)
}

type ServiceParams struct {
	Repo            Repository
	Orders          orderLifecycle
	Registry        Registry
	Tx              txRunner
	Outbox          outboxPublisher
	ArtifactBaseURL string
	// Artifacts is optional. Without it certificates are rendered on
	// download only.
	Artifacts      ArtifactStore
	ArtifactPrefix string
	Metrics        *metrics.DependencyMetrics
	Clock          func() time.Time
	Logger         *logger.Logger
}

type service struct {
	repo         Repository
	orders       orderLifecycle
	registry     Registry
	tx           txRunner
	outbox       outboxPublisher
	artifactBase string
	artifacts    ArtifactStore
	prefix       string
	numbers      numberGenerator
	deps         *metrics.DependencyMetrics
	clock        func() time.Time
	logg         *logger.Logger
}

// NewService wires certificate issuance dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("certificates repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order lifecycle required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("certificate registry required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	numbers, err := newNumberGenerator()
	if err != nil {
		return nil, err
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	base := strings.TrimRight(strings.TrimSpace(params.ArtifactBaseURL), "/")
	if base == "" {
		base = "/api/v1/orders"
	}
	prefix := strings.Trim(strings.TrimSpace(params.ArtifactPrefix), "/")
	if prefix == "" {
		prefix = defaultArtifactPrefix
	}
	return &service{
		repo:         params.Repo,
		orders:       params.Orders,
		registry:     params.Registry,
		tx:           params.Tx,
		outbox:       params.Outbox,
		artifactBase: base,
		artifacts:    params.Artifacts,
		prefix:       prefix,
		numbers:      numbers,
		deps:         params.Metrics,
		clock:        params.Clock,
		logg:         params.Logger,
	}, nil
}

// IssueForOrder registers and stores the certificate for a paid order and
// completes it. Calling it again for the same order returns the existing
// certificate.
func (s *service) IssueForOrder(ctx context.Context, orderID uuid.UUID) (*models.Certificate, error) {
	order, err := s.orders.LoadOrder(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	existing, err := s.findForOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.ensureCompleted(ctx, order, existing)
	}
	if order.Status != enums.OrderStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s, expected %s", order.Status, enums.OrderStatusPaid)).
			WithDetails(map[string]string{
				"current_status":  string(order.Status),
				"expected_status": string(enums.OrderStatusPaid),
			})
	}

	issuedAt := s.clock().UTC().Truncate(time.Second)
	number := s.numbers(order.ID)

	started := time.Now()
	record, err := s.registry.Register(ctx, RegistrationRequest{
		CertificateNumber: number,
		OrderID:           order.ID,
		FlightNumber:      order.FlightNumber,
		FlightDate:        order.FlightDate.UTC().Format(flights.DateLayout),
		DepartureAirport:  order.DepartureAirport,
		ArrivalAirport:    order.ArrivalAirport,
		SAFVolumeLiters:   order.SAFVolumeLiters,
		CarbonReductionKg: order.CarbonReductionKg,
		IssuedAt:          issuedAt,
	})
	s.deps.Observe(registryDependency, "register", err, time.Since(started))
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "certificate registry unavailable")
		}
		return nil, err
	}

	cert := &models.Certificate{
		ID:                uuid.New(),
		OrderID:           order.ID,
		CertificateNumber: number,
		RegistryID:        record.RegistryID,
		SAFVolumeLiters:   order.SAFVolumeLiters,
		CarbonReductionKg: order.CarbonReductionKg,
		ArtifactURI:       fmt.Sprintf("%s/%s/certificate", s.artifactBase, order.ID),
		IssuedAt:          issuedAt,
	}
	s.storeArtifact(ctx, cert, order)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, cert); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "certificate already issued for order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store certificate")
		}
		if _, err := s.orders.CompleteOrder(ctx, tx, order.ID, cert.ID); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCertificateIssued,
			AggregateType: enums.AggregateCertificate,
			AggregateID:   cert.ID,
			OccurredAt:    issuedAt,
			Data: payloads.CertificateIssuedEvent{
				CertificateID:     cert.ID,
				OrderID:           order.ID,
				OwnerID:           order.OwnerID,
				CertificateNumber: cert.CertificateNumber,
				RegistryID:        cert.RegistryID,
				SAFVolumeLiters:   cert.SAFVolumeLiters,
				IssuedAt:          issuedAt,
			},
		})
	})
	if err != nil {
		// A concurrent issuer may have won the insert.
		if winner, lookupErr := s.findForOrder(ctx, order.ID); lookupErr == nil && winner != nil {
			s.logg.Warn(ctx, "certificate already issued by a concurrent caller")
			return winner, nil
		}
		return nil, err
	}

	s.logg.Info(s.logg.WithField(ctx, "certificate_number", cert.CertificateNumber), "certificate issued")
	return cert, nil
}

// storeArtifact uploads the rendered certificate and points ArtifactURI at
// the stored copy. On failure the download endpoint stays the artifact URI.
func (s *service) storeArtifact(ctx context.Context, cert *models.Certificate, order *models.Order) {
	if s.artifacts == nil {
		return
	}
	doc, err := render(cert, order)
	if err != nil {
		s.logg.Error(ctx, "render certificate for upload", err)
		return
	}
	started := time.Now()
	uri, err := s.artifacts.Upload(ctx, s.prefix+"/"+doc.Filename, doc.ContentType, doc.Body)
	s.deps.Observe(artifactDependency, "upload", err, time.Since(started))
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "certificate upload failed, serving on demand")
		return
	}
	cert.ArtifactURI = uri
}

// ensureCompleted finishes an order whose certificate was stored but whose
// completion did not commit.
func (s *service) ensureCompleted(ctx context.Context, order *models.Order, cert *models.Certificate) (*models.Certificate, error) {
	if order.Status != enums.OrderStatusPaid {
		return cert, nil
	}
	if _, err := s.orders.CompleteOrder(ctx, nil, order.ID, cert.ID); err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		return nil, err
	}
	return cert, nil
}

func (s *service) findForOrder(ctx context.Context, orderID uuid.UUID) (*models.Certificate, error) {
	cert, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load certificate")
	}
	return cert, nil
}

func (s *service) GetForOrder(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*models.Certificate, error) {
	if _, err := s.orders.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	cert, err := s.findForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "certificate not found")
	}
	return cert, nil
}

// Artifact renders the certificate document of a completed order.
func (s *service) Artifact(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*Document, error) {
	order, err := s.orders.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "certificate is available once the order is completed").
			WithDetails(map[string]string{"current_status": string(order.Status)})
	}
	cert, err := s.findForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "certificate not found")
	}
	doc, err := render(cert, order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render certificate")
	}
	return doc, nil
}

// Verify looks a certificate up by number. Unknown numbers are reported
// as invalid rather than missing.
func (s *service) Verify(ctx context.Context, number string) (*Verification, error) {
	normalized, ok := NormalizeNumber(number)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "malformed certificate number").
			WithDetails(map[string]string{"certificate_number": "must look like CERT-XXXXXXXX-XXXXXXXX"})
	}
	cert, err := s.repo.FindByNumber(ctx, normalized)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Verification{CertificateNumber: normalized}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load certificate")
	}
	issued := cert.IssuedAt.UTC()
	return &Verification{
		CertificateNumber: cert.CertificateNumber,
		Valid:             strings.TrimSpace(cert.RegistryID) != "",
		RegistryID:        cert.RegistryID,
		IssuedAt:          &issued,
		SAFVolumeLiters:   cert.SAFVolumeLiters.StringFixed(1),
		CarbonReductionKg: cert.CarbonReductionKg.StringFixed(2),
	}, nil
}
