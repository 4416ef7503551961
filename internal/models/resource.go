package models

import "strings"

// Attributes is the raw attribute bag returned by the CMCI API for one
// record. Keys are the lowercase attribute names as sent by the server.
type Attributes map[string]string

// Resource is an immutable snapshot of one management-API entity. The
// accessor attributes (primary key, status fields) come from the kind
// metadata that produced it.
type Resource struct {
	Kind       string     `json:"kind"`
	Attributes Attributes `json:"attributes"`

	primaryKey string
	statusAttr string
	enableAttr string
}

// NewResource wraps raw attributes. The attribute map is copied so later
// mutation of the source cannot leak into the snapshot.
func NewResource(kind, primaryKey, statusAttr, enableAttr string, attrs Attributes) Resource {
	cp := make(Attributes, len(attrs))
	for k, v := range attrs {
		cp[strings.ToLower(k)] = v
	}
	return Resource{
		Kind:       kind,
		Attributes: cp,
		primaryKey: primaryKey,
		statusAttr: statusAttr,
		enableAttr: enableAttr,
	}
}

// Get returns the value of an attribute, or "" when absent.
func (r Resource) Get(attr string) string {
	return r.Attributes[strings.ToLower(attr)]
}

// Name returns the value of the kind's primary key attribute.
func (r Resource) Name() string {
	return r.Get(r.primaryKey)
}

// PrimaryKey returns the attribute name used as identity.
func (r Resource) PrimaryKey() string {
	return r.primaryKey
}

// Status returns the kind-specific status attribute (e.g. ENABLED, OPEN).
func (r Resource) Status() string {
	if r.statusAttr == "" {
		return ""
	}
	return r.Get(r.statusAttr)
}

// EnableStatus returns the kind-specific enablement attribute, which differs
// from Status for kinds such as files (openstatus vs enablestatus).
func (r Resource) EnableStatus() string {
	if r.enableAttr == "" {
		return r.Status()
	}
	return r.Get(r.enableAttr)
}

// Region returns the owning region (eyu_cicsname) of the record.
func (r Resource) Region() string {
	return r.Get("eyu_cicsname")
}
