// Package bridge carries events from the advisor to an embedding host.
package bridge

import "sync/atomic"

type NotifyFunc func(topic string, payload string)

var impl atomic.Pointer[NotifyFunc]

// SetNotifyImpl 由 cmd/libcortex 调用，注入 CGO 的实现；传 nil 取消
func SetNotifyImpl(f NotifyFunc) {
	if f == nil {
		impl.Store(nil)
		return
	}
	impl.Store(&f)
}

// Notify 供 runtime 和 service 层调用，发送事件给 App。可在任意 goroutine 中调用。
func Notify(topic string, payload string) {
	if f := impl.Load(); f != nil {
		(*f)(topic, payload)
	}
}
