package sync

// Operation labels for progress reporting.
const (
	OpUpload = "upload"
	OpDelete = "delete"
)

// Progress receives run updates. Implementations must be safe for
// concurrent Step calls from worker goroutines.
type Progress interface {
	// Begin announces an operation and how many items it covers.
	Begin(op string, total int)

	// Step reports one completed item.
	Step(name string, size int64)

	// End closes out the operation with the number of failed items.
	End(failed int)
}

type nopProgress struct{}

func (nopProgress) Begin(string, int) {}

func (nopProgress) Step(string, int64) {}

func (nopProgress) End(int) {}
