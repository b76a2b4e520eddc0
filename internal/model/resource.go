package model

// Resource is a link to a course document, filed under
// (level, term, department, subject). Resources are append-only.
type Resource struct {
	ID          string `json:"id"`
	Level       int    `json:"level"`
	Term        int    `json:"term"`
	Department  string `json:"department"`
	SubjectName string `json:"subjectName"`
	Link        string `json:"driveLink"`
	AddedBy     string `json:"addedBy"`
}

// ResourceFilter selects resources. A zero dimension matches everything.
type ResourceFilter struct {
	Level      int
	Term       int
	Department string
}

// Matches reports whether r passes every set dimension of f.
func (f ResourceFilter) Matches(r Resource) bool {
	return (f.Level == 0 || r.Level == f.Level) &&
		(f.Term == 0 || r.Term == f.Term) &&
		(f.Department == "" || r.Department == f.Department)
}
