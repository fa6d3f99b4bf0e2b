package catalog

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/katalog/produk-server/app/session"
	"github.com/katalog/produk-server/blobstore"
	"github.com/katalog/produk-server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const adminToken = "valid-token"

// --- Mock Repo ---

type MockProductRepo struct {
	Rows      map[uint]models.Product
	InsertErr error
	UpdateErr error
	DeleteErr error

	// afterGet runs once a GetByID has read its row, to interleave a second edit.
	afterGet func()

	nextID uint
	calls  *[]string
}

func newMockProductRepo(calls *[]string) *MockProductRepo {
	return &MockProductRepo{Rows: map[uint]models.Product{}, calls: calls}
}

func (m *MockProductRepo) Insert(ctx context.Context, f models.ProductFields) (uint, error) {
	*m.calls = append(*m.calls, "repo.Insert")
	if m.InsertErr != nil {
		return 0, m.InsertErr
	}
	m.nextID++
	m.Rows[m.nextID] = *productFrom(m.nextID, f)
	return m.nextID, nil
}

func (m *MockProductRepo) GetByID(ctx context.Context, id uint) (*models.Product, error) {
	p, ok := m.Rows[id]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	if m.afterGet != nil {
		m.afterGet()
	}
	return &p, nil
}

func (m *MockProductRepo) ListAll(ctx context.Context) ([]models.Product, error) {
	out := make([]models.Product, 0, len(m.Rows))
	for id := m.nextID; id > 0; id-- {
		if p, ok := m.Rows[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockProductRepo) Update(ctx context.Context, id uint, f models.ProductFields) error {
	*m.calls = append(*m.calls, "repo.Update")
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	current, ok := m.Rows[id]
	if !ok {
		return models.ErrProductNotFound
	}
	if f.KeepImage {
		f.Image = current.Image
	}
	m.Rows[id] = *productFrom(id, f)
	return nil
}

func (m *MockProductRepo) Delete(ctx context.Context, id uint) error {
	*m.calls = append(*m.calls, "repo.Delete")
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if _, ok := m.Rows[id]; !ok {
		return models.ErrProductNotFound
	}
	delete(m.Rows, id)
	return nil
}

// --- Mock collaborators ---

type MockGate struct {
	Tokens map[string]uint
}

func (m *MockGate) Authorize(ctx context.Context, token string) (uint, error) {
	id, ok := m.Tokens[token]
	if !ok {
		return 0, session.ErrUnauthenticated
	}
	return id, nil
}

type MockOrphans struct {
	Recorded map[string]string
}

func (m *MockOrphans) Record(ctx context.Context, blobID, reason string) error {
	m.Recorded[blobID] = reason
	return nil
}

// flakyStore is a real FileStore whose operations can be made to fail.
type flakyStore struct {
	*blobstore.FileStore
	PutErr    error
	DeleteErr error

	calls *[]string
}

func (s *flakyStore) Put(ctx context.Context, r io.Reader, ext string) (string, error) {
	*s.calls = append(*s.calls, "blob.Put")
	if s.PutErr != nil {
		return "", s.PutErr
	}
	return s.FileStore.Put(ctx, r, ext)
}

func (s *flakyStore) Delete(ctx context.Context, id string) error {
	*s.calls = append(*s.calls, "blob.Delete")
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	return s.FileStore.Delete(ctx, id)
}

type fixture struct {
	svc     *Service
	repo    *MockProductRepo
	blobs   *flakyStore
	orphans *MockOrphans
	calls   *[]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs, err := blobstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	calls := &[]string{}
	f := &fixture{
		repo:    newMockProductRepo(calls),
		blobs:   &flakyStore{FileStore: fs, calls: calls},
		orphans: &MockOrphans{Recorded: map[string]string{}},
		calls:   calls,
	}
	gate := &MockGate{Tokens: map[string]uint{adminToken: 1}}
	f.svc = NewService(f.repo, f.blobs, gate, f.orphans, zaptest.NewLogger(t))
	return f
}

func (f *fixture) blobCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(f.blobs.Dir())
	require.NoError(t, err)
	return len(entries)
}

func (f *fixture) blobExists(t *testing.T, id string) bool {
	t.Helper()
	ok, err := f.blobs.Exists(context.Background(), id)
	require.NoError(t, err)
	return ok
}

// assertNoDanglingRefs checks that every stored image reference resolves.
func (f *fixture) assertNoDanglingRefs(t *testing.T) {
	t.Helper()
	for id, p := range f.repo.Rows {
		if p.Image != nil {
			assert.True(t, f.blobExists(t, *p.Image), "product %d references missing blob %s", id, *p.Image)
		}
	}
}

func upload(content, name string) *Upload {
	return &Upload{Content: strings.NewReader(content), Filename: name}
}

func validInput() ProductInput {
	return ProductInput{Name: "Kopi", Price: 15000, Description: "Arabika"}
}

// --- Tests: Create ---

func TestCreate(t *testing.T) {
	t.Run("With image", func(t *testing.T) {
		f := newFixture(t)

		p, err := f.svc.Create(context.Background(), adminToken, validInput(), upload("png-bytes", "kopi.PNG"))
		require.NoError(t, err)
		require.NotNil(t, p.Image)
		assert.True(t, strings.HasSuffix(*p.Image, ".png"))
		assert.True(t, f.blobExists(t, *p.Image))
		assert.Equal(t, []string{"blob.Put", "repo.Insert"}, *f.calls)

		stored, err := f.repo.GetByID(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, *p, *stored)
	})

	t.Run("Without image", func(t *testing.T) {
		f := newFixture(t)

		p, err := f.svc.Create(context.Background(), adminToken, validInput(), nil)
		require.NoError(t, err)
		assert.Nil(t, p.Image)
		assert.Equal(t, 0, f.blobCount(t))
	})

	t.Run("Trims fields", func(t *testing.T) {
		f := newFixture(t)

		p, err := f.svc.Create(context.Background(), adminToken, ProductInput{Name: "  Teh  ", Description: " hijau "}, nil)
		require.NoError(t, err)
		assert.Equal(t, "Teh", p.Name)
		assert.Equal(t, "hijau", p.Description)
	})

	t.Run("Unauthenticated writes nothing", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Create(context.Background(), "", validInput(), upload("x", "a.png"))
		assert.ErrorIs(t, err, session.ErrUnauthenticated)
		assert.Empty(t, f.repo.Rows)
		assert.Equal(t, 0, f.blobCount(t))
	})

	t.Run("Insert failure leaves an orphan", func(t *testing.T) {
		f := newFixture(t)
		f.repo.InsertErr = &models.StorageError{Op: "products.insert", Err: errors.New("disk full")}

		_, err := f.svc.Create(context.Background(), adminToken, validInput(), upload("x", "a.jpg"))
		var storageErr *models.StorageError
		assert.ErrorAs(t, err, &storageErr)
		assert.Empty(t, f.repo.Rows)

		require.Len(t, f.orphans.Recorded, 1)
		for blobID, reason := range f.orphans.Recorded {
			assert.Equal(t, "create", reason)
			assert.True(t, f.blobExists(t, blobID))
		}
	})

	t.Run("Blob failure inserts nothing", func(t *testing.T) {
		f := newFixture(t)
		f.blobs.PutErr = errors.New("quota exceeded")

		_, err := f.svc.Create(context.Background(), adminToken, validInput(), upload("x", "a.jpg"))
		assert.Error(t, err)
		assert.Empty(t, f.repo.Rows)
		assert.Equal(t, []string{"blob.Put"}, *f.calls)
	})
}

func TestCreateValidation(t *testing.T) {
	testCases := []struct {
		name    string
		input   ProductInput
		field   string
		message string
	}{
		{name: "Empty name", input: ProductInput{Name: "   ", Price: 1}, field: "nama", message: "is required"},
		{name: "Name too long", input: ProductInput{Name: strings.Repeat("a", 256), Price: 1}, field: "nama", message: "must be at most 255 characters"},
		{name: "Negative price", input: ProductInput{Name: "Kopi", Price: -1}, field: "harga", message: "must not be negative"},
		{name: "Description too long", input: ProductInput{Name: "Kopi", Description: strings.Repeat("d", 5001)}, field: "deskripsi", message: "must be at most 5000 characters"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.svc.Create(context.Background(), adminToken, tc.input, upload("x", "a.png"))
			var v *ValidationError
			require.ErrorAs(t, err, &v)
			assert.Equal(t, tc.field, v.Field)
			assert.Equal(t, tc.message, v.Message)
			assert.True(t, IsValidation(err))
			assert.Equal(t, 0, f.blobCount(t), "validation must run before any blob write")
			assert.Empty(t, *f.calls)
		})
	}
}

// --- Tests: Update ---

func seed(t *testing.T, f *fixture, withImage bool) *models.Product {
	t.Helper()
	var img *Upload
	if withImage {
		img = upload("old", "old.png")
	}
	p, err := f.svc.Create(context.Background(), adminToken, validInput(), img)
	require.NoError(t, err)
	*f.calls = nil
	return p
}

func TestUpdate(t *testing.T) {
	t.Run("Replaces image after the row", func(t *testing.T) {
		f := newFixture(t)
		old := seed(t, f, true)

		in := ProductInput{Name: "Kopi Susu", Price: 18000}
		p, err := f.svc.Update(context.Background(), adminToken, old.ID, in, upload("new", "new.jpg"))
		require.NoError(t, err)
		require.NotNil(t, p.Image)
		assert.NotEqual(t, *old.Image, *p.Image)
		assert.Equal(t, "Kopi Susu", p.Name)

		assert.Equal(t, []string{"blob.Put", "repo.Update", "blob.Delete"}, *f.calls)
		assert.False(t, f.blobExists(t, *old.Image), "replaced blob should be deleted")
		assert.True(t, f.blobExists(t, *p.Image))
		f.assertNoDanglingRefs(t)
	})

	t.Run("Keeps image without upload", func(t *testing.T) {
		f := newFixture(t)
		old := seed(t, f, true)

		p, err := f.svc.Update(context.Background(), adminToken, old.ID, ProductInput{Name: "Baru", Price: 1}, nil)
		require.NoError(t, err)
		assert.Equal(t, old.Image, p.Image)
		assert.True(t, f.blobExists(t, *old.Image))
		assert.Equal(t, []string{"repo.Update"}, *f.calls)
	})

	t.Run("Field edit racing an image replace keeps the new image", func(t *testing.T) {
		f := newFixture(t)
		old := seed(t, f, true)

		var replaced *models.Product
		f.repo.afterGet = func() {
			f.repo.afterGet = nil
			var err error
			replaced, err = f.svc.Update(context.Background(), adminToken, old.ID, validInput(), upload("new", "new.png"))
			require.NoError(t, err)
		}

		p, err := f.svc.Update(context.Background(), adminToken, old.ID, ProductInput{Name: "Kopi Tubruk", Price: 9000}, nil)
		require.NoError(t, err)
		require.NotNil(t, replaced)

		row := f.repo.Rows[old.ID]
		assert.Equal(t, "Kopi Tubruk", row.Name)
		assert.Equal(t, replaced.Image, row.Image)
		assert.Equal(t, replaced.Image, p.Image)
		assert.False(t, f.blobExists(t, *old.Image))
		f.assertNoDanglingRefs(t)
	})

	t.Run("Adds image to product without one", func(t *testing.T) {
		f := newFixture(t)
		old := seed(t, f, false)

		p, err := f.svc.Update(context.Background(), adminToken, old.ID, validInput(), upload("new", "n.webp"))
		require.NoError(t, err)
		require.NotNil(t, p.Image)
		assert.Equal(t, []string{"blob.Put", "repo.Update"}, *f.calls)
	})

	t.Run("Not found writes no blob", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Update(context.Background(), adminToken, 99, validInput(), upload("x", "a.png"))
		assert.ErrorIs(t, err, models.ErrProductNotFound)
		assert.Equal(t, 0, f.blobCount(t))
	})

	t.Run("Not found before validation", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Update(context.Background(), adminToken, 99, ProductInput{Name: "", Price: -5}, upload("x", "a.png"))
		assert.ErrorIs(t, err, models.ErrProductNotFound)
		assert.False(t, IsValidation(err))
		assert.Equal(t, 0, f.blobCount(t))
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		f := newFixture(t)
		old := seed(t, f, true)

		_, err := f.svc.Update(context.Background(), "stale", old.ID, validInput(), upload("x", "a.png"))
		assert.ErrorIs(t, err, session.ErrUnauthenticated)
		assert.Equal(t, 1, f.blobCount(t))
	})

	t.Run("Row failure keeps old reference valid", func(t *testing.T) {
		f := newFixture(t)
		old := seed(t, f, true)
		f.repo.UpdateErr = &models.StorageError{Op: "products.update", Err: errors.New("locked")}

		_, err := f.svc.Update(context.Background(), adminToken, old.ID, validInput(), upload("new", "n.png"))
		assert.Error(t, err)

		assert.True(t, f.blobExists(t, *old.Image), "old blob must survive a failed update")
		assert.Equal(t, old.Image, f.repo.Rows[old.ID].Image)
		require.Len(t, f.orphans.Recorded, 1)
		for blobID, reason := range f.orphans.Recorded {
			assert.NotEqual(t, *old.Image, blobID)
			assert.Equal(t, "update", reason)
		}
		f.assertNoDanglingRefs(t)
	})

	t.Run("Old blob delete failure still succeeds", func(t *testing.T) {
		f := newFixture(t)
		old := seed(t, f, true)
		f.blobs.DeleteErr = errors.New("permission denied")

		p, err := f.svc.Update(context.Background(), adminToken, old.ID, validInput(), upload("new", "n.png"))
		require.NoError(t, err)
		assert.Equal(t, "replace", f.orphans.Recorded[*old.Image])
		assert.Equal(t, p.Image, f.repo.Rows[old.ID].Image)
		f.assertNoDanglingRefs(t)
	})

	t.Run("Validation before blob write", func(t *testing.T) {
		f := newFixture(t)
		old := seed(t, f, true)

		_, err := f.svc.Update(context.Background(), adminToken, old.ID, ProductInput{Name: ""}, upload("new", "n.png"))
		assert.True(t, IsValidation(err))
		assert.Equal(t, 1, f.blobCount(t))
	})
}

// --- Tests: Delete ---

func TestDelete(t *testing.T) {
	t.Run("Row then blob", func(t *testing.T) {
		f := newFixture(t)
		p := seed(t, f, true)

		require.NoError(t, f.svc.Delete(context.Background(), adminToken, p.ID))
		assert.Equal(t, []string{"repo.Delete", "blob.Delete"}, *f.calls)
		assert.Empty(t, f.repo.Rows)
		assert.Equal(t, 0, f.blobCount(t))
	})

	t.Run("Without image", func(t *testing.T) {
		f := newFixture(t)
		p := seed(t, f, false)

		require.NoError(t, f.svc.Delete(context.Background(), adminToken, p.ID))
		assert.Equal(t, []string{"repo.Delete"}, *f.calls)
	})

	t.Run("Not found", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.svc.Delete(context.Background(), adminToken, 42), models.ErrProductNotFound)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		f := newFixture(t)
		p := seed(t, f, true)

		assert.ErrorIs(t, f.svc.Delete(context.Background(), "", p.ID), session.ErrUnauthenticated)
		assert.Len(t, f.repo.Rows, 1)
		assert.Equal(t, 1, f.blobCount(t))
	})

	t.Run("Row failure keeps blob", func(t *testing.T) {
		f := newFixture(t)
		p := seed(t, f, true)
		f.repo.DeleteErr = errors.New("db down")

		assert.Error(t, f.svc.Delete(context.Background(), adminToken, p.ID))
		assert.True(t, f.blobExists(t, *p.Image))
		f.assertNoDanglingRefs(t)
	})

	t.Run("Blob failure still succeeds", func(t *testing.T) {
		f := newFixture(t)
		p := seed(t, f, true)
		f.blobs.DeleteErr = errors.New("io error")

		require.NoError(t, f.svc.Delete(context.Background(), adminToken, p.ID))
		assert.Empty(t, f.repo.Rows)
		assert.Equal(t, "delete", f.orphans.Recorded[*p.Image])
	})
}

// --- Tests: List ---

func TestList(t *testing.T) {
	f := newFixture(t)
	first := seed(t, f, false)
	second := seed(t, f, true)

	public, err := f.svc.ListPublic(context.Background())
	require.NoError(t, err)
	require.Len(t, public, 2)
	assert.Equal(t, second.ID, public[0].ID, "newest first")
	assert.Equal(t, first.ID, public[1].ID)

	admin, err := f.svc.ListForAdmin(context.Background(), adminToken)
	require.NoError(t, err)
	assert.Equal(t, public, admin)

	_, err = f.svc.ListForAdmin(context.Background(), "nope")
	assert.ErrorIs(t, err, session.ErrUnauthenticated)
}

func TestNormalizeCountsRunes(t *testing.T) {
	in, err := ProductInput{Name: " " + strings.Repeat("é", 255) + " ", Price: 0}.normalize()
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 255), in.Name)
}

func TestParsePrice(t *testing.T) {
	testCases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "15000", want: 15000},
		{in: " 0 ", want: 0},
		{in: "15000.00", want: 15000},
		{in: "15000.5", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
		{in: "9223372036854775808", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParsePrice(tc.in)
			if tc.wantErr {
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
