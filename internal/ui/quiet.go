package ui

// quietPresenter drains events and prints nothing.
type quietPresenter struct{}

func (*quietPresenter) Run(events <-chan Event) error {
	for range events {
	}
	return nil
}

func (*quietPresenter) Summary() string { return "" }
