package domain

import "fmt"

// ConfigError reports an invalid configuration value. It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// NoFeedFoundError reports that discovery found no feed for a topic name.
type NoFeedFoundError struct {
	Name string
}

func (e *NoFeedFoundError) Error() string {
	return fmt.Sprintf("no feed found for topic %q", e.Name)
}

// FetchError reports a failed fetch or parse of a remote document.
// It is transient: the next poll may succeed.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StorageError reports a failed storage operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
