package coordinator

import "fmt"

// FileAccessError reports that the database file (or its notifier transport)
// could not be opened.
type FileAccessError struct {
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("unable to open database at %s: %v", e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error {
	return e.Err
}

// MismatchedConfigError reports an open attempt whose configuration differs
// from the one the coordinator captured for the path.
type MismatchedConfigError struct {
	Path  string
	Field string
}

func (e *MismatchedConfigError) Error() string {
	return fmt.Sprintf("database at %s already opened with a different %s", e.Path, e.Field)
}
