package ports

type EventBus interface {
	Publish(evt Event)
	// Subscribe filtre par préfixe de topic; sans préfixe, reçoit tout.
	Subscribe(prefixes ...string) (ch <-chan Event, cancel func())
}

type Event struct {
	Topic string
	// Owner limite la diffusion (SSE) à l'utilisateur concerné. Vide = local.
	Owner   string
	Payload []byte
}
