package catalog

import "github.com/shopspring/decimal"

// Product is a point-in-time snapshot of a catalog product. It is used for
// validation and pricing while an order is built and is never persisted.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	BrandID     int64           `json:"brandId"`
	Sizes       []Size          `json:"sizes"`
	Photos      []Photo         `json:"photos"`
}

type Size struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Photo struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

func (p Product) HasSize(sizeID int64) bool {
	for _, s := range p.Sizes {
		if s.ID == sizeID {
			return true
		}
	}
	return false
}

func (p Product) PhotoURLs() []string {
	urls := make([]string, 0, len(p.Photos))
	for _, ph := range p.Photos {
		if ph.URL != "" {
			urls = append(urls, ph.URL)
		}
	}
	return urls
}
