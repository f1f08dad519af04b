package client

// Observer is notified of authentication events inside Execute. The CLI
// uses it to report progress; methods must not block.
type Observer interface {
	AccessTokenRejected(endpoint string)
	TokenRefreshed()
	RefreshFailed(err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) AccessTokenRejected(string) {}
func (NopObserver) TokenRefreshed()            {}
func (NopObserver) RefreshFailed(error)        {}
