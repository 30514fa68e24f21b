package batch

// Package and batch lifecycle statuses.
const (
	PkgPending    = "pending"
	PkgProcessing = "processing"
	PkgDone       = "done"
	PkgError      = "error"
	PkgCancelled  = "cancelled"

	StatusReady      = "ready"
	StatusProcessing = "processing"
	StatusCancelling = "cancelling"
	StatusCancelled  = "cancelled"
	StatusDone       = "done"
	StatusPartial    = "partial"
	StatusError      = "error"
)

// Package tracks one top-level folder of the batch archive.
type Package struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	JobID        string `json:"jobId,omitempty"`
	ResultFile   string `json:"resultFile,omitempty"`
	DownloadName string `json:"downloadName,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Meta is the persisted batch record. It is the only channel between request
// handlers and the batch worker, which is why writes must stay atomic.
type Meta struct {
	BatchID         string    `json:"batchId"`
	Status          string    `json:"status"`
	CancelRequested bool      `json:"cancelRequested"`
	Packages        []Package `json:"packages"`
	CreatedAt       int64     `json:"createdAt"`
}

func (m *Meta) findPackage(name string) *Package {
	for i := range m.Packages {
		if m.Packages[i].Name == name {
			return &m.Packages[i]
		}
	}
	return nil
}
