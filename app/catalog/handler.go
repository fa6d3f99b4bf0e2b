package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/schema"
	"github.com/katalog/produk-server/app/session"
	"github.com/katalog/produk-server/models"
	"go.uber.org/zap"
)

const imageField = "gambar"

type ProductService interface {
	ListPublic(ctx context.Context) ([]models.Product, error)
	ListForAdmin(ctx context.Context, token string) ([]models.Product, error)
	Create(ctx context.Context, token string, in ProductInput, img *Upload) (*models.Product, error)
	Update(ctx context.Context, token string, id uint, in ProductInput, img *Upload) (*models.Product, error)
	Delete(ctx context.Context, token string, id uint) error
}

// SessionGate pulls the session token out of a request and resolves it.
type SessionGate interface {
	Token(r *http.Request) string
	Authorize(ctx context.Context, token string) (uint, error)
}

type CatalogHandler struct {
	service        ProductService
	gate           SessionGate
	decoder        *schema.Decoder
	maxUploadBytes int64
	log            *zap.Logger
}

func NewCatalogHandler(s ProductService, gate SessionGate, maxUploadBytes int64, log *zap.Logger) *CatalogHandler {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return &CatalogHandler{
		service:        s,
		gate:           gate,
		decoder:        decoder,
		maxUploadBytes: maxUploadBytes,
		log:            log,
	}
}

type productForm struct {
	Name        string `schema:"nama"`
	Price       string `schema:"harga"`
	Description string `schema:"deskripsi"`
}

type productResponse struct {
	Message string          `json:"message"`
	Product *models.Product `json:"produk"`
}

func (h *CatalogHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListPublic(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, products)
}

func (h *CatalogHandler) HandleAdminList(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListForAdmin(r.Context(), h.gate.Token(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, products)
}

func (h *CatalogHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	in, img, err := h.parseProduct(w, r)
	if err != nil {
		h.writeFormError(w, r, err)
		return
	}
	defer closeUpload(img)

	product, err := h.service.Create(r.Context(), h.gate.Token(r), in, img)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, productResponse{Message: "Product created", Product: product})
}

func (h *CatalogHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.writeFormError(w, r, err)
		return
	}
	in, img, err := h.parseProduct(w, r)
	if err != nil {
		h.writeFormError(w, r, err)
		return
	}
	defer closeUpload(img)

	product, err := h.service.Update(r.Context(), h.gate.Token(r), id, in, img)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, productResponse{Message: "Product updated", Product: product})
}

func (h *CatalogHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.writeFormError(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), h.gate.Token(r), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Product deleted"})
}

var errBadForm = errors.New("invalid form body")

// parseProduct decodes the product fields and the optional image from a
// multipart or urlencoded body.
func (h *CatalogHandler) parseProduct(w http.ResponseWriter, r *http.Request) (ProductInput, *Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	if mediaType == "multipart/form-data" {
		err = r.ParseMultipartForm(h.maxUploadBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ProductInput{}, nil, &ValidationError{Field: imageField, Message: "is too large"}
		}
		return ProductInput{}, nil, errBadForm
	}

	var form productForm
	if err := h.decoder.Decode(&form, r.PostForm); err != nil {
		return ProductInput{}, nil, errBadForm
	}
	price, err := ParsePrice(form.Price)
	if err != nil {
		return ProductInput{}, nil, err
	}
	in := ProductInput{Name: form.Name, Price: price, Description: form.Description}

	if r.MultipartForm == nil {
		return in, nil, nil
	}
	file, header, err := r.FormFile(imageField)
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return in, nil, nil
	case err != nil:
		return ProductInput{}, nil, errBadForm
	}
	// Browsers submit an empty part when no file was picked.
	if header.Filename == "" && header.Size == 0 {
		file.Close()
		return in, nil, nil
	}
	return in, &Upload{Content: file, Filename: header.Filename}, nil
}

var errBadID = errors.New("invalid product id")

func parseID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 0)
	if err != nil || id == 0 {
		return 0, errBadID
	}
	return uint(id), nil
}

// writeFormError reports a malformed request, unless the caller is not logged
// in at all, in which case that takes precedence.
func (h *CatalogHandler) writeFormError(w http.ResponseWriter, r *http.Request, err error) {
	if _, authErr := h.gate.Authorize(r.Context(), h.gate.Token(r)); authErr != nil {
		h.writeError(w, authErr)
		return
	}
	h.writeError(w, err)
}

func closeUpload(img *Upload) {
	if img == nil {
		return
	}
	if c, ok := img.Content.(io.Closer); ok {
		c.Close()
	}
}

// writeError maps service errors onto status codes.
func (h *CatalogHandler) writeError(w http.ResponseWriter, err error) {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"message": validation.Error()})
	case errors.Is(err, errBadForm), errors.Is(err, errBadID):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
	case errors.Is(err, session.ErrUnauthenticated):
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Login required"})
	case errors.Is(err, models.ErrProductNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"message": "Product not found"})
	default:
		h.log.Error("catalog request failed", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
}

func (h *CatalogHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn("failed to write response", zap.Int("status", status), zap.Error(err))
	}
}
