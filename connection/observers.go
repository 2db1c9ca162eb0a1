package connection

import (
	"sync"

	"rpc-gateway/rpc"
)

// Observer recebe o handler da conexão criada ou fechada.
type Observer func(h rpc.Handler)

type observerList struct {
	mu     sync.Mutex
	nextID uint64
	items  []observerEntry
}

type observerEntry struct {
	id uint64
	fn Observer
}

// add registra fn e devolve a função que remove exatamente esta inscrição.
func (l *observerList) add(fn Observer) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.items = append(l.items, observerEntry{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *observerList) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.items {
		if e.id == id {
			l.items = append(l.items[:i:i], l.items[i+1:]...)
			return
		}
	}
}

// notify chama os observadores fora do lock, sobre uma cópia da lista.
func (l *observerList) notify(h rpc.Handler) {
	l.mu.Lock()
	snapshot := make([]Observer, len(l.items))
	for i, e := range l.items {
		snapshot[i] = e.fn
	}
	l.mu.Unlock()

	for _, fn := range snapshot {
		fn(h)
	}
}

func (l *observerList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
