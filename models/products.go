package models

// Product represents a catalog item.
// Image holds the blob id of the product picture, nil when the product has none.
type Product struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	Name        string  `gorm:"column:nama" json:"nama"`
	Price       int64   `gorm:"column:harga" json:"harga"`
	Description string  `gorm:"column:deskripsi" json:"deskripsi"`
	Image       *string `gorm:"column:gambar;size:191;index" json:"gambar"`
}

func (p *Product) TableName() string {
	return "produk"
}

// ProductFields are the mutable columns of a product row.
// KeepImage leaves gambar untouched on update, so a field-only edit never
// writes back an image id another edit has since replaced.
type ProductFields struct {
	Name        string
	Price       int64
	Description string
	Image       *string
	KeepImage   bool
}

func (f ProductFields) columns() map[string]interface{} {
	cols := map[string]interface{}{
		"nama":      f.Name,
		"harga":     f.Price,
		"deskripsi": f.Description,
	}
	if !f.KeepImage {
		cols["gambar"] = f.Image
	}
	return cols
}
