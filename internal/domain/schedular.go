// internal/domain/schedular.go
package domain

// Scheduler is a background batch-formation loop.
type Scheduler interface {
	Start() error
	Stop()
	Running() bool
}
