package domain

// Job status constants
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusSucceeded = "SUCCEEDED"
	JobStatusFailed    = "FAILED"
)

// JobType identifies which generation pipeline handles a job
type JobType string

const (
	JobTypeLogo    JobType = "logo"
	JobTypeMeme    JobType = "meme"
	JobTypeSticker JobType = "sticker"
	JobTypeEdit    JobType = "edit"
	JobTypePackage JobType = "package"
)

// JobTypes lists every job type the worker must be able to execute.
var JobTypes = []JobType{
	JobTypeLogo,
	JobTypeMeme,
	JobTypeSticker,
	JobTypeEdit,
	JobTypePackage,
}

// Valid reports whether t is a known job type
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Meme quality tiers
const (
	QualityStandard = "standard"
	QualityHD       = "hd"
)
