package order

import "time"

type Status string

const (
	StatusAwaitingPayment Status = "awaiting-payment"
	StatusPaidFor         Status = "paid-for"
	StatusMustBeRefunded  Status = "must-be-refunded"
	StatusRefunded        Status = "refunded"
	StatusCanceled        Status = "canceled"
)

var transitions = map[Status][]Status{
	StatusAwaitingPayment: {StatusPaidFor, StatusMustBeRefunded, StatusCanceled},
	StatusPaidFor:         {StatusCanceled, StatusRefunded},
	StatusMustBeRefunded:  {StatusRefunded, StatusCanceled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingPayment, StatusPaidFor, StatusMustBeRefunded, StatusRefunded, StatusCanceled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusRefunded || s == StatusCanceled
}

// CanTransitionTo treats a transition to the current status as allowed so
// redelivered events stay harmless.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Address struct {
	Country     string `json:"country"`
	Locality    string `json:"locality"`
	Region      string `json:"region"`
	PostalCode  string `json:"postalCode"`
	Street      string `json:"street"`
	HouseNumber string `json:"houseNumber"`
}

type Order struct {
	ID              int64   `json:"id"`
	UserID          int64   `json:"userId"`
	PaymentID       string  `json:"paymentId"`
	PaymentIntentID *string `json:"paymentIntentId"`
	Status          Status  `json:"status"`
	Address
	Description      string      `json:"description"`
	PaymentLink      string      `json:"paymentLink,omitempty"`
	Items            []OrderItem `json:"orderItems"`
	CreationDateTime time.Time   `json:"creationDateTime"`
	UpdateDateTime   time.Time   `json:"updateDateTime"`
}

// OrderItem keeps BrandID as a snapshot taken when the order was created.
type OrderItem struct {
	ID        int64 `json:"id"`
	OrderID   int64 `json:"orderId"`
	ProductID int64 `json:"productId"`
	SizeID    int64 `json:"sizeId"`
	BrandID   int64 `json:"brandId"`
	Quantity  int64 `json:"quantity"`
}

type ItemInput struct {
	ProductID int64 `json:"productId"`
	SizeID    int64 `json:"sizeId"`
	Quantity  int64 `json:"quantity"`
}

type CreateOrderInput struct {
	UserID      int64
	Address     Address
	Description string
	Items       []ItemInput
}

// UpdateOrderInput only touches address and description; nil fields are kept.
type UpdateOrderInput struct {
	Country     *string `json:"country"`
	Locality    *string `json:"locality"`
	Region      *string `json:"region"`
	PostalCode  *string `json:"postalCode"`
	Street      *string `json:"street"`
	HouseNumber *string `json:"houseNumber"`
	Description *string `json:"description"`
}

func (in UpdateOrderInput) Empty() bool {
	return in.Country == nil && in.Locality == nil && in.Region == nil &&
		in.PostalCode == nil && in.Street == nil && in.HouseNumber == nil &&
		in.Description == nil
}

func (in UpdateOrderInput) apply(o *Order) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&o.Country, in.Country)
	set(&o.Locality, in.Locality)
	set(&o.Region, in.Region)
	set(&o.PostalCode, in.PostalCode)
	set(&o.Street, in.Street)
	set(&o.HouseNumber, in.HouseNumber)
	set(&o.Description, in.Description)
}

// StatusChange is published after a status transition commits.
type StatusChange struct {
	OrderID         int64     `json:"orderId"`
	PaymentID       string    `json:"paymentId"`
	PaymentIntentID string    `json:"paymentIntentId,omitempty"`
	Status          Status    `json:"status"`
	OccurredAt      time.Time `json:"occurredAt"`
}
