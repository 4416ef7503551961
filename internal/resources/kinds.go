// Package resources holds the static metadata for every manageable CICS
// resource kind. Nothing here performs I/O.
package resources

import (
	"sort"
	"strings"

	"github.com/rflorenc/cics-explorer/internal/models"
)

// Kind describes one resource table exposed by CMCI.
type Kind struct {
	Name         string `json:"name"`
	ResourceName string `json:"resource_name"` // CMCI table, e.g. CICSProgram
	Label        string `json:"label"`
	PrimaryKey   string `json:"primary_key"`
	StatusAttr   string `json:"status_attr,omitempty"`
	EnableAttr   string `json:"enable_attr,omitempty"`
	// DefaultCriteria is used when no filter is applied.
	DefaultCriteria string `json:"default_criteria"`
	// ParentKey is the attribute naming the parent for child kinds.
	ParentKey string   `json:"parent_key,omitempty"`
	Child     string   `json:"child,omitempty"`
	Actions   []string `json:"actions,omitempty"`
	// CaseSensitive names are matched as typed instead of upper-cased.
	CaseSensitive bool `json:"case_sensitive,omitempty"`
}

// kinds is the registry, in display order.
var kinds = []Kind{
	{Name: "program", ResourceName: "CICSProgram", Label: "Programs", PrimaryKey: "program",
		StatusAttr:      "status",
		DefaultCriteria: "NOT (PROGRAM=CEE* OR PROGRAM=DFH* OR PROGRAM=CJ* OR PROGRAM=EYU* OR PROGRAM=CSQ* OR PROGRAM=CEL* OR PROGRAM=IGZ*)",
		Actions:         []string{"ENABLE", "DISABLE", "NEWCOPY", "PHASEIN"}},
	{Name: "localtransaction", ResourceName: "CICSLocalTransaction", Label: "Local Transactions", PrimaryKey: "tranid",
		StatusAttr:      "status",
		DefaultCriteria: "NOT (PROGRAM=CEE* OR PROGRAM=DFH* OR PROGRAM=CJ* OR PROGRAM=EYU* OR PROGRAM=CSQ* OR PROGRAM=CEL* OR PROGRAM=IGZ*)",
		Actions:         []string{"ENABLE", "DISABLE"}},
	{Name: "remotetransaction", ResourceName: "CICSRemoteTransaction", Label: "Remote Transactions", PrimaryKey: "tranid",
		StatusAttr: "status", DefaultCriteria: "TRANID=*",
		Actions: []string{"ENABLE", "DISABLE"}},
	{Name: "localfile", ResourceName: "CICSLocalFile", Label: "Local Files", PrimaryKey: "file",
		StatusAttr: "openstatus", EnableAttr: "enablestatus", DefaultCriteria: "FILE=*",
		Actions: []string{"ENABLE", "DISABLE", "OPEN", "CLOSE"}},
	{Name: "remotefile", ResourceName: "CICSRemoteFile", Label: "Remote Files", PrimaryKey: "file",
		DefaultCriteria: "FILE=*"},
	{Name: "task", ResourceName: "CICSTask", Label: "Tasks", PrimaryKey: "task",
		StatusAttr: "runstatus", DefaultCriteria: "TRANID=*",
		Actions: []string{"PURGE", "FORCEPURGE"}},
	{Name: "library", ResourceName: "CICSLibrary", Label: "Libraries", PrimaryKey: "name",
		StatusAttr: "enablestatus", DefaultCriteria: "NAME=*", Child: "librarydataset",
		Actions: []string{"ENABLE", "DISABLE"}},
	{Name: "librarydataset", ResourceName: "CICSLibraryDatasetName", Label: "Library Datasets", PrimaryKey: "dsname",
		DefaultCriteria: "DSNAME=*", ParentKey: "library"},
	{Name: "pipeline", ResourceName: "CICSPipeline", Label: "Pipelines", PrimaryKey: "name",
		StatusAttr: "enablestatus", DefaultCriteria: "NAME=*",
		Actions: []string{"ENABLE", "DISABLE", "DISCARD"}},
	{Name: "urimap", ResourceName: "CICSURIMap", Label: "URI Maps", PrimaryKey: "name",
		StatusAttr: "enablestatus", DefaultCriteria: "NAME=*",
		Actions: []string{"ENABLE", "DISABLE", "DISCARD"}},
	{Name: "webservice", ResourceName: "CICSWebService", Label: "Web Services", PrimaryKey: "name",
		StatusAttr: "state", DefaultCriteria: "NAME=*",
		Actions: []string{"DISCARD"}},
	{Name: "tcpipservice", ResourceName: "CICSTCPIPService", Label: "TCP/IP Services", PrimaryKey: "name",
		StatusAttr: "openstatus", DefaultCriteria: "NAME=*",
		Actions: []string{"OPEN", "CLOSE", "DISCARD"}},
	{Name: "jvmserver", ResourceName: "CICSJVMServer", Label: "JVM Servers", PrimaryKey: "name",
		StatusAttr: "enablestatus", DefaultCriteria: "NAME=*",
		Actions: []string{"ENABLE", "DISABLE", "PURGE", "FORCEPURGE"}},
	{Name: "bundle", ResourceName: "CICSBundle", Label: "Bundles", PrimaryKey: "name",
		StatusAttr: "enablestatus", DefaultCriteria: "NAME=*", Child: "bundlepart",
		Actions: []string{"ENABLE", "DISABLE", "DISCARD"}},
	{Name: "bundlepart", ResourceName: "CICSBundlePart", Label: "Bundle Parts", PrimaryKey: "bundlepart",
		StatusAttr: "enablestatus", DefaultCriteria: "BUNDLEPART=*", ParentKey: "bundle"},
	{Name: "tsqueue", ResourceName: "CICSTSQueue", Label: "TS Queues", PrimaryKey: "name",
		DefaultCriteria: "NOT (NAME=DFH* OR NAME=EYU*)", CaseSensitive: true},
	{Name: "sharedtsqueue", ResourceName: "CICSSharedTSQueue", Label: "Shared TS Queues", PrimaryKey: "name",
		DefaultCriteria: "NOT (NAME=DFH* OR NAME=EYU*)", CaseSensitive: true},
	{Name: "region", ResourceName: "CICSRegion", Label: "Regions", PrimaryKey: "cicsname",
		StatusAttr: "cicsstatus", DefaultCriteria: "CICSNAME=*"},
	{Name: "managedregion", ResourceName: "CICSManagedRegion", Label: "Managed Regions", PrimaryKey: "cicsname",
		StatusAttr: "cicsstate", DefaultCriteria: "CICSNAME=*"},
}

var byName = func() map[string]int {
	m := make(map[string]int, len(kinds)*2)
	for i, k := range kinds {
		m[strings.ToLower(k.Name)] = i
		m[strings.ToLower(k.ResourceName)] = i
	}
	return m
}()

// Lookup finds a kind by short name or CMCI resource name, ignoring case.
func Lookup(name string) (Kind, bool) {
	i, ok := byName[strings.ToLower(name)]
	if !ok {
		return Kind{}, false
	}
	return kinds[i], true
}

// All returns every kind in display order.
func All() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// Names returns the sorted short names.
func Names() []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, k.Name)
	}
	sort.Strings(out)
	return out
}

// ParentKind returns the kind that lists k as its child.
func (k Kind) ParentKind() (Kind, bool) {
	for _, p := range kinds {
		if p.Child != "" && p.Child == k.Name {
			return p, true
		}
	}
	return Kind{}, false
}

// Wrap turns a raw record into a Resource of this kind.
func (k Kind) Wrap(attrs models.Attributes) models.Resource {
	return models.NewResource(k.Name, k.PrimaryKey, k.StatusAttr, k.EnableAttr, attrs)
}

// WrapAll wraps records preserving their order.
func (k Kind) WrapAll(records []models.Attributes) []models.Resource {
	out := make([]models.Resource, 0, len(records))
	for _, rec := range records {
		out = append(out, k.Wrap(rec))
	}
	return out
}

// BuildCriteria ORs the values over the primary key. With no values the
// default criteria is returned.
func (k Kind) BuildCriteria(values []string) string {
	if c := k.NameCriteria(values...); c != "" {
		return c
	}
	return k.DefaultCriteria
}

// NameCriteria matches exactly the given names; "" when names is empty.
func (k Kind) NameCriteria(names ...string) string {
	key := strings.ToUpper(k.PrimaryKey)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if !k.CaseSensitive {
			n = strings.ToUpper(n)
		}
		if n == "" {
			continue
		}
		parts = append(parts, key+"="+n)
	}
	return strings.Join(parts, " OR ")
}

// ChildCriteria scopes a child kind to one parent resource, e.g.
// LIBRARY=MYLIB for library datasets.
func (k Kind) ChildCriteria(parent models.Resource) string {
	if k.ParentKey == "" {
		return k.DefaultCriteria
	}
	return strings.ToUpper(k.ParentKey) + "=" + parent.Name()
}

// Supports reports whether the action is allowed on this kind.
func (k Kind) Supports(action string) bool {
	action = strings.ToUpper(action)
	for _, a := range k.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// DisplayLabel renders a tree label such as "PROG1 (Disabled)". Enabled and
// open resources show the bare name.
func (k Kind) DisplayLabel(r models.Resource) string {
	label := r.Name()
	var notes []string
	if s := strings.ToUpper(r.EnableStatus()); s == "DISABLED" || s == "DISABLING" || s == "UNENABLED" {
		notes = append(notes, titleCase(s))
	}
	if k.StatusAttr == "openstatus" {
		if s := strings.ToUpper(r.Status()); s == "CLOSED" {
			notes = append(notes, titleCase(s))
		}
	}
	if k.StatusAttr == "runstatus" && r.Status() != "" {
		notes = append(notes, titleCase(r.Status()))
	}
	if len(notes) == 0 {
		return label
	}
	return label + " (" + strings.Join(notes, ", ") + ")"
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}
