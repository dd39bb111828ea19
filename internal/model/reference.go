package model

// PersonSummary is the subset of a `persons` row embedded in visit details.
type PersonSummary struct {
	ID         uint64 `json:"id"`
	FirstName  string `json:"nombre"`
	LastName   string `json:"apellido"`
	DocumentID string `json:"documento_identidad"`
	Company    string `json:"empresa"`
}

// CenterSummary is the subset of a `data_centers` row embedded in visit details.
type CenterSummary struct {
	ID   uint64 `json:"id"`
	Name string `json:"nombre"`
	Code string `json:"codigo"`
	City string `json:"ciudad"`
}

// DataCenter represents a row of the `data_centers` table.
type DataCenter struct {
	ID     uint64 `json:"id"`
	Name   string `json:"nombre"`
	Code   string `json:"codigo"`
	City   string `json:"ciudad"`
	Active bool   `json:"activo"`
}

// Area is a zone inside a data center (`areas` table).
type Area struct {
	ID       uint64 `json:"id"`
	Name     string `json:"nombre"`
	CenterID uint64 `json:"centro_datos_id"`
}

// ActivityType is a row of the `activity_types` catalogue.
type ActivityType struct {
	ID   uint64 `json:"id"`
	Name string `json:"nombre"`
}
