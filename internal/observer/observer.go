// internal/observer/observer.go
package observer

// Observer 观察者接口
type Observer interface {
	// Begin 在响应头提交时调用，total 是本次要写给客户端的字节数，-1 表示未知
	Begin(total int64)
	// Update 是观察者接收通知的方法，n 是本次新写入的字节数
	Update(n int64)
}

// Observable 被观察者（主题）接口
type Observable interface {
	AddObserver(o Observer)
	Notify(n int64)
}
