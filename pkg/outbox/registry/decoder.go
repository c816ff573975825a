package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
)

// ErrNoDecoder is returned by Decode for an event type and version nobody registered.
var ErrNoDecoder = errors.New("no decoder registered")

// Decoder turns a raw outbox payload into its typed event.
type Decoder func(payload json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps (event type, payload version) to a decoder. Consumers keep
// decoding old versions while producers move to new ones.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[decoderKey]Decoder
	validate *validator.Validate
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{
		decoders: make(map[decoderKey]Decoder),
		validate: validator.New(),
	}
}

// Register adds decoder for eventType at version. Versions start at 1 and may be
// registered once.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder Decoder) error {
	if !eventType.IsValid() {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	if version < 1 {
		return fmt.Errorf("%s: version must be >= 1, got %d", eventType, version)
	}
	if decoder == nil {
		return fmt.Errorf("%s@v%d: decoder required", eventType, version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := decoderKey{eventType: eventType, version: version}
	if _, exists := r.decoders[key]; exists {
		return fmt.Errorf("%s@v%d already registered", eventType, version)
	}
	r.decoders[key] = decoder
	return nil
}

// RegisterJSON registers a decoder that unmarshals into *T and runs its validate tags.
func RegisterJSON[T any](r *DecoderRegistry, eventType enums.OutboxEventType, version int) error {
	return r.Register(eventType, version, func(payload json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(payload, out); err != nil {
			return nil, fmt.Errorf("unmarshal %s@v%d: %w", eventType, version, err)
		}
		if err := r.validate.Struct(out); err != nil {
			return nil, fmt.Errorf("validate %s@v%d: %w", eventType, version, err)
		}
		return out, nil
	})
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mu.RLock()
	decoder, ok := r.decoders[decoderKey{eventType: eventType, version: version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s@v%d", ErrNoDecoder, eventType, version)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%s@v%d: empty payload", eventType, version)
	}
	return decoder(payload)
}

// Versions lists the registered payload versions for eventType in ascending order.
func (r *DecoderRegistry) Versions(eventType enums.OutboxEventType) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var versions []int
	for key := range r.decoders {
		if key.eventType == eventType {
			versions = append(versions, key.version)
		}
	}
	sort.Ints(versions)
	return versions
}
