package service

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps constructor signatures clean and the services
// metrics-agnostic; nil callbacks become no-ops via fill().
type MetricHooks struct {
	OnEnqueued   func(count int)
	OnDispatched func()
	OnDelivered  func()
	OnRetried    func()
	OnFailed     func(class string)
	OnCancelled  func(count int64)
	OnCallback   func(outcome string)
}

func (h MetricHooks) fill() MetricHooks {
	if h.OnEnqueued == nil {
		h.OnEnqueued = func(int) {}
	}
	if h.OnDispatched == nil {
		h.OnDispatched = func() {}
	}
	if h.OnDelivered == nil {
		h.OnDelivered = func() {}
	}
	if h.OnRetried == nil {
		h.OnRetried = func() {}
	}
	if h.OnFailed == nil {
		h.OnFailed = func(string) {}
	}
	if h.OnCancelled == nil {
		h.OnCancelled = func(int64) {}
	}
	if h.OnCallback == nil {
		h.OnCallback = func(string) {}
	}
	return h
}
