package models

import (
	"context"

	"gorm.io/gorm"
)

type ProductsRepository struct {
	db *gorm.DB
}

func NewProductsRepository(db *gorm.DB) *ProductsRepository {
	return &ProductsRepository{
		db: db,
	}
}

// Insert persists a new product row and returns its generated id.
func (r *ProductsRepository) Insert(ctx context.Context, fields ProductFields) (uint, error) {
	product := Product{
		Name:        fields.Name,
		Price:       fields.Price,
		Description: fields.Description,
		Image:       fields.Image,
	}
	if err := r.db.WithContext(ctx).Create(&product).Error; err != nil {
		return 0, storageErr("insert product", err, nil)
	}
	return product.ID, nil
}

func (r *ProductsRepository) GetByID(ctx context.Context, id uint) (*Product, error) {
	var product Product
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&product).Error; err != nil {
		return nil, storageErr("get product", err, ErrProductNotFound)
	}
	return &product, nil
}

// ListAll returns every product, newest first.
func (r *ProductsRepository) ListAll(ctx context.Context) ([]Product, error) {
	products := []Product{}
	if err := r.db.WithContext(ctx).
		Order("id DESC").
		Find(&products).Error; err != nil {
		return nil, storageErr("list products", err, nil)
	}
	return products, nil
}

// Update replaces all mutable columns of the product in a single statement.
func (r *ProductsRepository) Update(ctx context.Context, id uint, fields ProductFields) error {
	res := r.db.WithContext(ctx).
		Model(&Product{}).
		Where("id = ?", id).
		Updates(fields.columns())
	if res.Error != nil {
		return storageErr("update product", res.Error, nil)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// MySQL reports changed rows only, so an identical update affects zero rows.
	var count int64
	if err := r.db.WithContext(ctx).Model(&Product{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return storageErr("update product", err, nil)
	}
	if count == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *ProductsRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Product{})
	if res.Error != nil {
		return storageErr("delete product", res.Error, nil)
	}
	if res.RowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

// CountByImage reports how many products reference the given blob id.
func (r *ProductsRepository) CountByImage(ctx context.Context, image string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&Product{}).
		Where("gambar = ?", image).
		Count(&count).Error; err != nil {
		return 0, storageErr("count product images", err, nil)
	}
	return count, nil
}

// Images returns the set of blob ids referenced by any product.
func (r *ProductsRepository) Images(ctx context.Context) (map[string]struct{}, error) {
	var images []string
	if err := r.db.WithContext(ctx).
		Model(&Product{}).
		Where("gambar IS NOT NULL").
		Pluck("gambar", &images).Error; err != nil {
		return nil, storageErr("list product images", err, nil)
	}
	set := make(map[string]struct{}, len(images))
	for _, img := range images {
		set[img] = struct{}{}
	}
	return set, nil
}
