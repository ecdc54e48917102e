package metrics

func (m *Metrics) ConnectionOpened() {
	m.safeExecute("ConnectionOpened", func() {
		m.WebsocketConnections.Inc()
	})
}

func (m *Metrics) ConnectionClosed(authenticated bool) {
	m.safeExecute("ConnectionClosed", func() {
		m.WebsocketConnections.Dec()
		if authenticated {
			m.AuthenticatedConns.Dec()
		}
	})
}

func (m *Metrics) ConnectionDropped() {
	m.safeExecute("ConnectionDropped", func() {
		m.WebsocketDroppedTotal.Inc()
	})
}

// Authenticated records the first successful authentication of a connection.
func (m *Metrics) Authenticated() {
	m.safeExecute("Authenticated", func() {
		m.AuthenticatedConns.Inc()
	})
}

func (m *Metrics) AuthFailed() {
	m.safeExecute("AuthFailed", func() {
		m.AuthFailuresTotal.Inc()
	})
}

func (m *Metrics) EventReceived(event string) {
	m.safeExecute("EventReceived", func() {
		m.EventsReceivedTotal.WithLabelValues(event).Inc()
	})
}

func (m *Metrics) EventsDelivered(event string, count int) {
	if count <= 0 {
		return
	}
	m.safeExecute("EventsDelivered", func() {
		m.EventsDeliveredTotal.WithLabelValues(event).Add(float64(count))
	})
}

func (m *Metrics) HandlerPanicked(step string) {
	m.safeExecute("HandlerPanicked", func() {
		m.HandlerPanicsTotal.WithLabelValues(step).Inc()
	})
}

func (m *Metrics) SetRoomsActive(count int) {
	m.safeExecute("SetRoomsActive", func() {
		m.RoomsActive.Set(float64(count))
	})
}

func (m *Metrics) JoinDenied(reason string) {
	m.safeExecute("JoinDenied", func() {
		m.JoinDeniedTotal.WithLabelValues(reason).Inc()
	})
}

func (m *Metrics) RoomsSwept(count int) {
	if count <= 0 {
		return
	}
	m.safeExecute("RoomsSwept", func() {
		m.RoomsSweptTotal.Add(float64(count))
	})
}

func (m *Metrics) PresenceTransition(online bool) {
	m.safeExecute("PresenceTransition", func() {
		if online {
			m.PresenceTransitionsTotal.WithLabelValues("online").Inc()
			m.DoctorsOnline.Inc()
			return
		}
		m.PresenceTransitionsTotal.WithLabelValues("offline").Inc()
		m.DoctorsOnline.Dec()
	})
}

func (m *Metrics) SetCallsActive(count int) {
	m.safeExecute("SetCallsActive", func() {
		m.CallsActive.Set(float64(count))
	})
}

func (m *Metrics) PersistenceFailed(task string) {
	m.safeExecute("PersistenceFailed", func() {
		m.PersistenceFailuresTotal.WithLabelValues(task).Inc()
	})
}
