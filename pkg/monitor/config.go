package monitor

import (
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/go-playground/validator/v10"

    "github.com/amirimatin/go-readiness/pkg/membership"
    "github.com/amirimatin/go-readiness/pkg/scheduler"
)

// Config holds the static thresholds of the monitor. Each role with a wait
// operation has two minimums: Required* gates the asynchronous wait, while
// Required*Active gates the synchronous HasRequired* check.
type Config struct {
    // IncludeCoordinator counts coordinators and resource managers as workers.
    IncludeCoordinator bool `yaml:"include_coordinator"`

    RequiredWorkers        int           `yaml:"required_workers" validate:"gte=0"`
    RequiredWorkersActive  int           `yaml:"required_workers_active" validate:"gte=0"`
    RequiredWorkersMaxWait time.Duration `yaml:"required_workers_max_wait" validate:"gte=0"`

    RequiredCoordinators        int           `yaml:"required_coordinators" validate:"gte=0"`
    RequiredCoordinatorsActive  int           `yaml:"required_coordinators_active" validate:"gte=0"`
    RequiredCoordinatorsMaxWait time.Duration `yaml:"required_coordinators_max_wait" validate:"gte=0"`

    RequiredCoordinatorSidecarsMaxWait time.Duration `yaml:"required_coordinator_sidecars_max_wait" validate:"gte=0"`

    RequiredResourceManagersActive int `yaml:"required_resource_managers_active" validate:"gte=0"`

    // CoordinatorSidecarEnabled turns on sidecar waits; when false sidecar
    // waits succeed immediately.
    CoordinatorSidecarEnabled bool `yaml:"coordinator_sidecar_enabled"`
}

// DefaultConfig returns the thresholds a single-coordinator cluster uses.
func DefaultConfig() Config {
    return Config{
        IncludeCoordinator:                 true,
        RequiredWorkers:                    1,
        RequiredWorkersActive:              1,
        RequiredWorkersMaxWait:             5 * time.Minute,
        RequiredCoordinators:               1,
        RequiredCoordinatorsActive:         1,
        RequiredCoordinatorsMaxWait:        5 * time.Minute,
        RequiredCoordinatorSidecarsMaxWait: 5 * time.Minute,
        RequiredResourceManagersActive:     0,
        CoordinatorSidecarEnabled:          false,
    }
}

var validate = validator.New()

// Validate rejects negative counts and durations.
func (c Config) Validate() error {
    if err := validate.Struct(c); err != nil {
        var verrs validator.ValidationErrors
        if errors.As(err, &verrs) && len(verrs) > 0 {
            fe := verrs[0]
            return fmt.Errorf("%w: %s must not be negative (got %v)", ErrInvalidConfig, fe.Field(), fe.Value())
        }
        return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
    }
    return nil
}

// Options carries the injected collaborators of a Monitor.
type Options struct {
    Config Config
    // Source delivers membership snapshots (required).
    Source membership.Source
    // Scheduler runs wait timeouts. If nil, scheduler.New() is used and owned
    // by the monitor.
    Scheduler scheduler.Scheduler
    // Logger is optional. If nil, log.Default() is used.
    Logger *log.Logger
}

func (o Options) Validate() error {
    if o.Source == nil {
        return fmt.Errorf("%w: nil Source", ErrInvalidConfig)
    }
    return o.Config.Validate()
}
