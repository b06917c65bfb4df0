package monitor

// Frames buffered per viewer. A viewer that falls further behind than this misses frames.
const WatcherChannelSize = 4

// Register to receive every processed frame.
// The channel is closed when the monitor stops.
func (m *Monitor) AddWatcher() chan *Frame {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	ch := make(chan *Frame, WatcherChannelSize)
	if m.watchersClosed {
		close(ch)
		return ch
	}
	m.watchers = append(m.watchers, ch)
	return ch
}

// Unregister a watcher. This must be called even after the monitor has stopped.
func (m *Monitor) RemoveWatcher(ch chan *Frame) {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	for i, w := range m.watchers {
		if w == ch {
			m.watchers[i] = m.watchers[len(m.watchers)-1]
			m.watchers = m.watchers[:len(m.watchers)-1]
			return
		}
	}
}

func (m *Monitor) sendToWatchers(f *Frame) {
	m.watchersLock.RLock()
	// Never stall the frame loop on a slow viewer
	for _, ch := range m.watchers {
		select {
		case ch <- f:
		default:
		}
	}
	m.watchersLock.RUnlock()
}

func (m *Monitor) closeWatchers() {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	for _, ch := range m.watchers {
		close(ch)
	}
	m.watchers = nil
	m.watchersClosed = true
}
