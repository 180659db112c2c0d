package services

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-pedidos-client/internal/domain"
)

// AttachmentBackend is the subset of the transport used for documents.
type AttachmentBackend interface {
	UploadDocument(ctx context.Context, orderID, filename string, r io.Reader) error
	ListDocuments(ctx context.Context, orderID string) ([]domain.Document, error)
}

// AttachmentService uploads and lists order documents.
type AttachmentService struct {
	backend   AttachmentBackend
	presenter Presenter
	toastFor  time.Duration
	log       zerolog.Logger
}

// NewAttachmentService wires an AttachmentService.
func NewAttachmentService(b AttachmentBackend, p Presenter, toast time.Duration) *AttachmentService {
	if toast <= 0 {
		toast = 3 * time.Second
	}
	return &AttachmentService{
		backend:   b,
		presenter: p,
		toastFor:  toast,
		log:       log.With().Str("component", "attachments").Logger(),
	}
}

// Upload sends a file for orderID. On success a toast is shown and the
// refreshed document list is returned. A failed upload is only logged for
// the user's benefit; the error is still returned to the caller.
func (s *AttachmentService) Upload(ctx context.Context, orderID, filename string, r io.Reader) ([]domain.Document, error) {
	ctx, span := otel.Tracer("services/AttachmentService").Start(ctx, "Upload",
		trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(filename) == "" || r == nil {
		return nil, ErrEmptyInput
	}
	if err := s.backend.UploadDocument(ctx, orderID, filename, r); err != nil {
		s.log.Error().Err(err).Str("order_id", orderID).Str("file", filename).Msg("upload failed")
		return nil, err
	}
	s.presenter.Toast(NoticeSuccess, "Documento subido", s.toastFor)
	docs, _ := s.List(ctx, orderID)
	return docs, nil
}

// List returns the documents of orderID. Failures yield an empty list.
func (s *AttachmentService) List(ctx context.Context, orderID string) ([]domain.Document, error) {
	ctx, span := otel.Tracer("services/AttachmentService").Start(ctx, "List",
		trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	if strings.TrimSpace(orderID) == "" {
		return []domain.Document{}, ErrEmptyInput
	}
	docs, err := s.backend.ListDocuments(ctx, orderID)
	if err != nil {
		s.log.Warn().Err(err).Str("order_id", orderID).Msg("list documents failed")
		return []domain.Document{}, err
	}
	return docs, nil
}
