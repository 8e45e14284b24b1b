package model

// Organization is a legislature, chamber, committee or party
type Organization struct {
	Base
	SourceList
	LinkList

	Name           string `json:"name"`
	Classification string `json:"classification"`
	ParentID       string `json:"parent_id,omitempty"`
}

// NewOrganization creates an organization with a fresh identifier
func NewOrganization(name, classification string) *Organization {
	return &Organization{
		Base:           newBase(),
		Name:           name,
		Classification: classification,
	}
}

func (o *Organization) Kind() Kind      { return KindOrganization }
func (o *Organization) Schema() *Schema { return SchemaFor(KindOrganization) }

func (o *Organization) String() string {
	return o.Name
}
