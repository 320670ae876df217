package types

// Status is the row-level status of any persisted model.
// Soft deletes are expressed as StatusDeleted, never as a hard delete.
type Status string

const (
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
	StatusDeleted   Status = "deleted"
)

func (s Status) String() string {
	return string(s)
}
