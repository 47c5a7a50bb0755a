package events

// Event é qualquer payload publicado pelos serviços de rodada.
// Name identifica o tipo (e o tópico padrão); Key particiona no Kafka.
type Event interface {
	Name() string
	Key() string
}
