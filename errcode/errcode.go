package errcode

// Code is a stable error identifier shared by every board component.
// It is comparable and implements error, so callers can match it with errors.Is
// through any amount of wrapping.
type Code string

func (c Code) Error() string { return string(c) }

const (
	BusBusy           Code = "bus_busy"
	IoFailure         Code = "io_failure"
	ConfigRejected    Code = "config_rejected"
	MountFailure      Code = "mount_failure"
	DriverInitFailure Code = "driver_init_failure"
)

// E keeps an operation name and the underlying cause next to a Code.
type E struct {
	C   Code
	Op  string
	Err error
}

func New(c Code, op string, err error) error {
	return &E{C: c, Op: op, Err: err}
}

func (e *E) Error() string {
	msg := string(e.C)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *E) Unwrap() error { return e.Err }

// Is reports a match against the bare Code so errors.Is(err, IoFailure) works.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Of extracts the Code carried by err, or "" when there is none.
func Of(err error) Code {
	for err != nil {
		switch v := err.(type) {
		case Code:
			return v
		case *E:
			return v.C
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
