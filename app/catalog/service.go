package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/katalog/produk-server/blobstore"
	"github.com/katalog/produk-server/models"
	"go.uber.org/zap"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError rejects a structurally invalid product before persistence.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

type ProductRepository interface {
	Insert(ctx context.Context, fields models.ProductFields) (uint, error)
	GetByID(ctx context.Context, id uint) (*models.Product, error)
	ListAll(ctx context.Context) ([]models.Product, error)
	Update(ctx context.Context, id uint, fields models.ProductFields) error
	Delete(ctx context.Context, id uint) error
}

// Authorizer is the session gate guarding admin operations.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (uint, error)
}

// OrphanRecorder keeps track of blobs no row references, for later sweeping.
type OrphanRecorder interface {
	Record(ctx context.Context, blobID, reason string) error
}

// ProductInput carries the admin-supplied product fields.
type ProductInput struct {
	Name        string `json:"nama" validate:"required,max=255"`
	Price       int64  `json:"harga" validate:"gte=0"`
	Description string `json:"deskripsi" validate:"max=5000"`
}

// Upload is an image received with a create or update request.
type Upload struct {
	Content  io.Reader
	Filename string
}

// Service keeps product rows and their image blobs consistent. Blob writes
// happen before the row that references them, and blob deletes after the
// row that referenced them is gone, so failures only ever leave orphaned
// blobs behind, never rows pointing at missing blobs.
type Service struct {
	repo    ProductRepository
	blobs   blobstore.Store
	gate    Authorizer
	orphans OrphanRecorder
	log     *zap.Logger
}

func NewService(repo ProductRepository, blobs blobstore.Store, gate Authorizer, orphans OrphanRecorder, log *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		blobs:   blobs,
		gate:    gate,
		orphans: orphans,
		log:     log,
	}
}

// ListPublic returns every product, newest first. No session required.
func (s *Service) ListPublic(ctx context.Context) ([]models.Product, error) {
	return s.repo.ListAll(ctx)
}

// ListForAdmin returns the same data as ListPublic to an authorized admin.
func (s *Service) ListForAdmin(ctx context.Context, token string) ([]models.Product, error) {
	if _, err := s.gate.Authorize(ctx, token); err != nil {
		return nil, err
	}
	return s.repo.ListAll(ctx)
}

func (s *Service) Create(ctx context.Context, token string, in ProductInput, img *Upload) (*models.Product, error) {
	adminID, err := s.gate.Authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	in, err = in.normalize()
	if err != nil {
		return nil, err
	}

	var image *string
	if img != nil {
		id, err := s.putImage(ctx, img)
		if err != nil {
			return nil, err
		}
		image = &id
	}

	fields := in.fields(image)
	id, err := s.repo.Insert(ctx, fields)
	if err != nil {
		if image != nil {
			s.orphaned(ctx, *image, "create", err)
		}
		return nil, err
	}

	s.log.Info("product created", zap.Uint("id", id), zap.Uint("admin_id", adminID))
	return productFrom(id, fields), nil
}

// Update replaces the product fields. With an upload, the new image is
// stored, the row switched over, and only then the old image deleted.
// Without an upload the gambar column is not written at all.
func (s *Service) Update(ctx context.Context, token string, id uint, in ProductInput, img *Upload) (*models.Product, error) {
	adminID, err := s.gate.Authorize(ctx, token)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	in, err = in.normalize()
	if err != nil {
		return nil, err
	}

	var image *string
	if img != nil {
		newID, err := s.putImage(ctx, img)
		if err != nil {
			return nil, err
		}
		image = &newID
	}

	fields := in.fields(image)
	fields.KeepImage = img == nil
	if err := s.repo.Update(ctx, id, fields); err != nil {
		if img != nil {
			s.orphaned(ctx, *image, "update", err)
		}
		return nil, err
	}

	if img != nil && existing.Image != nil {
		if err := s.blobs.Delete(ctx, *existing.Image); err != nil {
			s.orphaned(ctx, *existing.Image, "replace", err)
		}
	}

	product := productFrom(id, fields)
	if img == nil {
		// Report the image the row holds now, which a concurrent edit may have changed.
		product.Image = existing.Image
		if current, err := s.repo.GetByID(ctx, id); err == nil {
			product.Image = current.Image
		}
	}

	s.log.Info("product updated", zap.Uint("id", id), zap.Uint("admin_id", adminID), zap.Bool("image_replaced", img != nil))
	return product, nil
}

// Delete removes the product row and then its image.
func (s *Service) Delete(ctx context.Context, token string, id uint) error {
	adminID, err := s.gate.Authorize(ctx, token)
	if err != nil {
		return err
	}

	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	if existing.Image != nil {
		if err := s.blobs.Delete(ctx, *existing.Image); err != nil {
			s.orphaned(ctx, *existing.Image, "delete", err)
		}
	}

	s.log.Info("product deleted", zap.Uint("id", id), zap.Uint("admin_id", adminID))
	return nil
}

func (s *Service) putImage(ctx context.Context, img *Upload) (string, error) {
	id, err := s.blobs.Put(ctx, img.Content, filepath.Ext(img.Filename))
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return id, nil
}

// orphaned logs and records a blob left without an owning row.
func (s *Service) orphaned(ctx context.Context, blobID, reason string, cause error) {
	s.log.Warn("orphaned blob",
		zap.String("blob_id", blobID),
		zap.String("reason", reason),
		zap.Error(cause))
	if s.orphans == nil {
		return
	}
	// The request context may already be cancelled; the ledger write must not be.
	if err := s.orphans.Record(context.WithoutCancel(ctx), blobID, reason); err != nil {
		s.log.Error("failed to record orphaned blob", zap.String("blob_id", blobID), zap.Error(err))
	}
}

func (in ProductInput) normalize() (ProductInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return in, validationError(fieldErrs[0])
		}
		return in, err
	}
	return in, nil
}

func validationError(fe validator.FieldError) *ValidationError {
	msg := "is invalid"
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "max":
		msg = fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		msg = "must not be negative"
	}
	return &ValidationError{Field: fe.Field(), Message: msg}
}

func (in ProductInput) fields(image *string) models.ProductFields {
	return models.ProductFields{
		Name:        in.Name,
		Price:       in.Price,
		Description: in.Description,
		Image:       image,
	}
}

func productFrom(id uint, f models.ProductFields) *models.Product {
	return &models.Product{
		ID:          id,
		Name:        f.Name,
		Price:       f.Price,
		Description: f.Description,
		Image:       f.Image,
	}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
