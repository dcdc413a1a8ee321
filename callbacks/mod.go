// Package callbacks holds ordered lists of event handlers which may remove themselves once run.
package callbacks

import (
	"github.com/pkg/errors"
)

// ErrDeregister may be returned by a callback to have it removed after it runs. It is not reported as a failure.
var ErrDeregister = errors.New("callback deregistered")

// Callback handles one event. The meaning of params depends on the event it is registered against.
type Callback func(params ...interface{}) error
