package delivery

// Observer is told about delivery outcomes, typically to record metrics.
type Observer interface {
	Published(topic string)
	Confirmed()
	Republished(count int)
	Cancelled(count int64)
}

type NopObserver struct{}

func (NopObserver) Published(string) {}
func (NopObserver) Confirmed()       {}
func (NopObserver) Republished(int)  {}
func (NopObserver) Cancelled(int64)  {}
