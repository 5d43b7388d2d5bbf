package models

type OwnerKind string

const (
	OwnerKindOrder  OwnerKind = "order"
	OwnerKindEntity OwnerKind = "entity"
)

// OwnerRef points at the order or entity a tracking record belongs to.
type OwnerRef struct {
	Kind OwnerKind
	ID   string
}

type Owner struct {
	Kind      OwnerKind
	ID        string
	PublicID  string
	CompanyID string
	Status    string
}

func (o *Owner) Ref() *OwnerRef {
	return &OwnerRef{Kind: o.Kind, ID: o.ID}
}
