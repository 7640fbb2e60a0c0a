package haikuplus

// Listener is told about session changes. Calls arrive on the
// Communicator's dispatcher.
type Listener interface {
	// SignInStateChanged is called whenever the signed-in state changes, and
	// when a sign-in attempt fails. err is nil for a successful sign-in or
	// a user initiated sign-out, and says why otherwise.
	SignInStateChanged(err error)

	// DisplayImageReady is called when the signed-in user's avatar fetch
	// finishes. On success the image is available from DisplayImage.
	DisplayImageReady(err error)
}

// ListenerFuncs adapts functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnSignInStateChanged func(err error)
	OnDisplayImageReady  func(err error)
}

func (l ListenerFuncs) SignInStateChanged(err error) {
	if l.OnSignInStateChanged != nil {
		l.OnSignInStateChanged(err)
	}
}

func (l ListenerFuncs) DisplayImageReady(err error) {
	if l.OnDisplayImageReady != nil {
		l.OnDisplayImageReady(err)
	}
}

type nopListener struct{}

func (nopListener) SignInStateChanged(error) {}
func (nopListener) DisplayImageReady(error)  {}
