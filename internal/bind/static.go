package bind

// StaticBinding declares how one parameter's value is derived at
// dispatch time. The variant set is closed; the binder dispatches on
// it by type switch.
type StaticBinding interface {
	// ParameterName is the declared parameter name.
	ParameterName() string

	isStaticBinding()
}

// QueueInput binds a parameter to the body of the triggering queue
// message. Route, when set, declares how named values are extracted
// from the payload.
type QueueInput struct {
	Name  string
	Queue string
	Route *Template
}

func (b QueueInput) ParameterName() string { return b.Name }
func (QueueInput) isStaticBinding()        {}

// BlobInput binds a parameter to the path of the triggering blob. Path
// declares the container-qualified pattern the blob must match.
type BlobInput struct {
	Name string
	Path *Template
}

func (b BlobInput) ParameterName() string { return b.Name }
func (BlobInput) isStaticBinding()        {}

// BlobOutput binds a parameter to a blob path expanded from the
// extracted named values, naming where the function should write.
type BlobOutput struct {
	Name string
	Path *Template
}

func (b BlobOutput) ParameterName() string { return b.Name }
func (BlobOutput) isStaticBinding()        {}

// Value binds a parameter directly to a named value from the event
// context. Absent values bind as missing, not as errors.
type Value struct {
	Name string
}

func (b Value) ParameterName() string { return b.Name }
func (Value) isStaticBinding()        {}
